package skill

import "testing"

func TestManifestSovereigntyFirewall(t *testing.T) {
	m := Manifest{
		"core-skill": {Tier: TierCore},
		"ext-a":      {Tier: TierExtension, ReadMask: slotBit(2), WriteMask: slotBit(2)},
	}

	if !m.CanAccess("core-skill", 1, true, false) {
		t.Fatal("core tier must access slot 1")
	}
	if m.CanAccess("ext-a", 1, true, false) {
		t.Fatal("extension tier must never access slot 1")
	}
	if m.CanAccess("ext-a", 9, false, false) {
		t.Fatal("extension tier must never access slot 9")
	}
	if !m.CanAccess("ext-a", 2, true, false) {
		t.Fatal("extension tier should access slot in its write mask")
	}
	if m.CanAccess("ext-a", 3, true, false) {
		t.Fatal("extension tier must not access slot outside its mask")
	}
	if m.CanAccess("ext-a", 2, true, true) {
		t.Fatal("strict mode must restrict non-core tiers from all slots")
	}
	if m.CanAccess("unknown", 2, false, false) {
		t.Fatal("unregistered skill must never be granted access")
	}
}

func TestDefaultChainCopiesDraftToPrompt(t *testing.T) {
	next := DefaultChain(0, Payload{"draft": "hello", "other": 1})
	if next["prompt"] != "hello" {
		t.Fatalf("expected prompt to be copied from draft, got %v", next["prompt"])
	}
	if next["other"] != 1 {
		t.Fatalf("expected unrelated fields preserved, got %v", next["other"])
	}
}

func TestBlueprintRegistryDefaultsChain(t *testing.T) {
	r := NewBlueprintRegistry()
	r.Register(Blueprint{Name: "two-stage", Steps: []string{"draft", "send"}})
	bp, ok := r.Get("two-stage")
	if !ok {
		t.Fatal("expected blueprint to be registered")
	}
	if bp.Chain == nil {
		t.Fatal("expected default chain to be assigned")
	}
}
