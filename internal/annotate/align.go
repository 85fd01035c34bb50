package annotate

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"golang.org/x/text/unicode/norm"
)

// align maps returned items to word positions by a longest common
// subsequence over surfaces. Equal-length replace regions are paired in
// order. The result holds, for each word, the index of its item or -1.
func align(words []string, items []string) []int {
	out := make([]int, len(words))
	for i := range out {
		out[i] = -1
	}
	a := make([]string, len(words))
	for i, w := range words {
		a[i] = alignKey(w)
	}
	b := make([]string, len(items))
	for i, w := range items {
		b[i] = alignKey(w)
	}
	m := difflib.NewMatcherWithJunk(a, b, false, nil)
	for _, op := range m.GetOpCodes() {
		switch op.Tag {
		case 'e':
			for k := 0; k < op.I2-op.I1; k++ {
				out[op.I1+k] = op.J1 + k
			}
		case 'r':
			if op.I2-op.I1 == op.J2-op.J1 {
				for k := 0; k < op.I2-op.I1; k++ {
					out[op.I1+k] = op.J1 + k
				}
			}
		}
	}
	return out
}

func alignKey(s string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFC.String(s)))
}

// matched counts aligned positions.
func matched(positions []int) int {
	n := 0
	for _, p := range positions {
		if p >= 0 {
			n++
		}
	}
	return n
}
