// Package text scans arbitrary byte buffers for UUID literals and rewrites
// them in place. It makes no assumption about the surrounding structure or
// encoding of the buffer (NBT string payload, JSON value, raw file path); it
// only looks for hex.
package text

import "github.com/google/uuid"

// Rewrite is invoked for every UUID literal found by Scan. It returns the
// replacement UUID and true to have the match rewritten in place, or
// (zero value, false) to leave the match untouched.
type Rewrite func(uuid.UUID) (uuid.UUID, bool)

// Scan walks buf for canonical dashed and bare (dashless) UUID literals and
// rewrites matches in place via rewrite. Two independent left-to-right
// passes run: dashed first, then dashless over the buffer as already
// mutated by the dashed pass. Since every replacement is equal-length
// lowercase hex, the dashless pass also catches bare UUIDs embedded in a
// longer hex run (this is relied on for locating UUIDs inside filenames).
func Scan(buf []byte, rewrite Rewrite) {
	scanDashed(buf, rewrite)
	scanDashless(buf, rewrite)
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')
}

func hexVal(c byte) byte {
	if c >= '0' && c <= '9' {
		return c - '0'
	}
	return c - 'a' + 10
}

func hexChar(v byte) byte {
	if v < 10 {
		return '0' + v
	}
	return 'a' + v - 10
}

// scanDashed matches H{8}-H{4}-H{4}-H{4}-H{12}, lowercase hex only. The DFA
// only special-cases the four dash positions (8, 13, 18, 23 within the
// current run); anything else falls through to the default hex-run counter.
// A non-dash character at one of those checkpoints does not necessarily
// reset the run back to zero (see spec's open question on whether this is
// intentional) -- it is ported here exactly as found.
func scanDashed(buf []byte, rewrite Rewrite) {
	matched := 0
	for i := 0; i < len(buf); i++ {
		c := buf[i]
		if !isHexDigit(c) && c != '-' {
			matched = 0
			continue
		}
		switch matched {
		case 8:
			if c == '-' {
				matched = 9
			} else {
				matched = 8
			}
		case 13:
			if c == '-' {
				matched = 14
			} else {
				matched = 5
			}
		case 18:
			if c == '-' {
				matched = 19
			} else {
				matched = 5
			}
		case 23:
			if c == '-' {
				matched = 24
			} else {
				matched = 5
			}
		default:
			if isHexDigit(c) {
				matched++
			} else {
				matched = 0
			}
		}
		if matched == 36 {
			matched = 0
			applyMatch(buf[i-35:i+1], rewrite)
		}
	}
}

// scanDashless matches H{32} with no position checks at all: any 32
// consecutive hex digits qualify. Running after scanDashed, this also
// matches the 32-hex-digit filename form of a UUID, and greedily matches
// from the first multiple-of-32 offset within any longer hex run.
func scanDashless(buf []byte, rewrite Rewrite) {
	matched := 0
	for i := 0; i < len(buf); i++ {
		if !isHexDigit(buf[i]) {
			matched = 0
			continue
		}
		matched++
		if matched == 32 {
			matched = 0
			applyMatch(buf[i-31:i+1], rewrite)
		}
	}
}

// applyMatch parses window as a (possibly dashed) UUID literal, invokes
// rewrite, and overwrites the hex positions in place when rewrite accepts.
// Dash positions, if any, are never touched, and the window never changes
// length, so no byte outside of it is ever shifted.
func applyMatch(window []byte, rewrite Rewrite) {
	id := parseHex(window)
	if replacement, ok := rewrite(id); ok {
		writeHex(window, replacement)
	}
}

func parseHex(window []byte) uuid.UUID {
	var out [16]byte
	nibble := 0
	for _, c := range window {
		if c == '-' {
			continue
		}
		v := hexVal(c)
		if nibble%2 == 0 {
			out[nibble/2] = v << 4
		} else {
			out[nibble/2] |= v
		}
		nibble++
	}
	return uuid.UUID(out)
}

func writeHex(window []byte, id uuid.UUID) {
	nibble := 0
	for i, c := range window {
		if c == '-' {
			continue
		}
		var v byte
		if nibble%2 == 0 {
			v = id[nibble/2] >> 4
		} else {
			v = id[nibble/2] & 0x0F
		}
		window[i] = hexChar(v)
		nibble++
	}
}
