package prescription

import (
	"math/rand"
	"sync"
	"time"
)

// CodeLength is the length of a redemption code.
const CodeLength = 8

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

var (
	codeRandMu sync.Mutex
	codeRand   = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// GenerateCode produces a fixed-length alphanumeric redemption code from the
// given source, or from a process-wide source when r is nil. Codes are not
// guaranteed unique; uniqueness, if needed, is the repository's job at
// persistence time.
func GenerateCode(r *rand.Rand) string {
	buf := make([]byte, CodeLength)
	if r != nil {
		for i := range buf {
			buf[i] = codeAlphabet[r.Intn(len(codeAlphabet))]
		}
		return string(buf)
	}
	codeRandMu.Lock()
	defer codeRandMu.Unlock()
	for i := range buf {
		buf[i] = codeAlphabet[codeRand.Intn(len(codeAlphabet))]
	}
	return string(buf)
}
