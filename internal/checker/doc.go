// Package checker holds the pure line-configuration analysis and the runner
// that walks a phase over the device list.
//
// The analyzer does no I/O: it turns the text of a device's line configuration
// into LineViolations for physical lines that accept plaintext telnet. Console,
// auxiliary and virtual-terminal lines are management lines and are never
// flagged.
//
// Classification for one physical line block, first match wins:
//
//  1. no "transport input" directive at all   -> default_no_transport_input
//  2. a directive naming telnet                -> explicit_telnet
//  3. a directive naming all                   -> transport_all
//  4. anything else (ssh only, none)           -> no violation
package checker
