package forge

// reviewChecklist is injected into the adversarial review prompt, the Go
// analogue of the teacher corpus's Rust CVE checklist: the vulnerability
// classes a reviewer model (or the heuristic analyzer) should check for.
const reviewChecklist = `## Security Vulnerability Checklist (Go-Specific)

Analyze the code for the following vulnerability classes:

### Memory & Type Safety
- Unsafe package use: ` + "`unsafe.Pointer`" + ` conversions that violate Go's memory model.
- Unchecked type assertions (` + "`x.(T)`" + ` without the ok-form) that can panic on attacker-controlled input.
- Data races: shared mutable state touched without a mutex or channel.

### Path Traversal & File System
- Path Traversal (CWE-22): user-controlled paths joined without validation against a root directory.
- Unrestricted file write: writing to paths derived from external input.

### Input Validation
- Command Injection (CWE-78): user input passed to os/exec.Command without an allowlist.
- SQL/NoSQL Injection: unsanitized input concatenated into a query string.
- Format string / log injection: user-controlled strings passed as a Printf format verb.

### Concurrency
- Race Conditions (CWE-362): goroutines sharing state without synchronization.
- Deadlocks: lock ordering violations or channel sends with no receiver.
- Goroutine leaks: goroutines with no cancellation path.

### Cryptography
- Weak hashing: MD5 or SHA-1 for security-critical purposes.
- Hardcoded secrets: API keys, passwords, or tokens embedded in source.
- Insufficient randomness: math/rand used where crypto/rand is required.

### Resource Exhaustion
- Unbounded allocation: slices/maps sized from external input with no cap.
- Infinite loops: loop conditions that may never terminate.
- File descriptor leaks: os.Open/net.Dial without a matching Close.

For each finding, provide: category, severity (info/low/medium/high/critical),
description, affected region (function or line range), and remediation.
Also flag patterns suggesting high memory usage, even if not a direct
vulnerability.`
