package usecase

import (
	"bytes"
	"strings"
)

// BytecodeRule is one heuristic applied to deployed bytecode. A match is a
// reason to distrust the contract, never a proof.
type BytecodeRule interface {
	Name() string
	Match(code []byte) bool
}

// OpcodeRule matches an opcode in the executable part of the code, skipping
// PUSH immediates and the trailing compiler metadata.
type OpcodeRule struct {
	Pattern string
	Opcode  byte
}

func (r OpcodeRule) Name() string { return r.Pattern }

func (r OpcodeRule) Match(code []byte) bool {
	code = stripMetadata(code)
	for i := 0; i < len(code); i++ {
		op := code[i]
		if op == r.Opcode {
			return true
		}
		if op >= 0x60 && op <= 0x7f {
			i += int(op - 0x5f)
		}
	}
	return false
}

// KeywordRule matches a case-insensitive substring of the hex encoding or of
// the printable strings embedded in the code.
type KeywordRule struct {
	Pattern string
}

func (r KeywordRule) Name() string { return r.Pattern }

func (r KeywordRule) Match(code []byte) bool {
	needle := strings.ToLower(r.Pattern)
	if needle == "" {
		return false
	}
	if isHex(needle) && strings.Contains(hexString(code), needle) {
		return true
	}
	return strings.Contains(strings.ToLower(printable(code)), needle)
}

var opcodeByPattern = map[string]byte{
	"selfdestruct": 0xff,
	"suicide":      0xff,
	"delegatecall": 0xf4,
	"callcode":     0xf2,
	"origin":       0x32,
}

// RulesFromPatterns maps configured patterns to rules. Known opcode names
// become opcode rules; anything else is matched as a keyword.
func RulesFromPatterns(patterns []string) []BytecodeRule {
	rules := make([]BytecodeRule, 0, len(patterns))
	for _, p := range patterns {
		if op, ok := opcodeByPattern[strings.ToLower(p)]; ok {
			rules = append(rules, OpcodeRule{Pattern: p, Opcode: op})
			continue
		}
		rules = append(rules, KeywordRule{Pattern: p})
	}
	return rules
}

// stripMetadata drops the CBOR metadata solc appends after the runtime code.
func stripMetadata(code []byte) []byte {
	if len(code) < 2 {
		return code
	}
	n := int(code[len(code)-2])<<8 | int(code[len(code)-1])
	start := len(code) - 2 - n
	if n == 0 || start < 0 {
		return code
	}
	if b := code[start]; b == 0xa1 || b == 0xa2 || b == 0xa3 {
		return code[:start]
	}
	return code
}

const hexDigits = "0123456789abcdef"

func hexString(code []byte) string {
	var b strings.Builder
	b.Grow(len(code) * 2)
	for _, c := range code {
		b.WriteByte(hexDigits[c>>4])
		b.WriteByte(hexDigits[c&0x0f])
	}
	return b.String()
}

func isHex(s string) bool {
	if len(s)%2 != 0 {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune(hexDigits, r) {
			return false
		}
	}
	return true
}

// printable returns runs of at least 4 printable ASCII bytes joined by newlines.
func printable(code []byte) string {
	var (
		out bytes.Buffer
		run []byte
	)
	flush := func() {
		if len(run) >= 4 {
			out.Write(run)
			out.WriteByte('\n')
		}
		run = run[:0]
	}
	for _, c := range code {
		if c >= 0x20 && c < 0x7f {
			run = append(run, c)
			continue
		}
		flush()
	}
	flush()
	return out.String()
}
