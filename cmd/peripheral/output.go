package main

import (
	"encoding/hex"
	"fmt"
	"time"
	"unicode"
	"unicode/utf8"
)

const shutdownTimeout = 5 * time.Second

// printable shows value as quoted text when it is printable UTF-8 and as hex otherwise.
func printable(value []byte) string {
	if len(value) == 0 {
		return `""`
	}
	if utf8.Valid(value) {
		text := string(value)
		ok := true
		for _, r := range text {
			if !unicode.IsPrint(r) {
				ok = false
				break
			}
		}
		if ok {
			return fmt.Sprintf("%q", text)
		}
	}
	return "0x" + hex.EncodeToString(value)
}
