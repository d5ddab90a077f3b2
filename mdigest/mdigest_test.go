package mdigest

import (
	"bytes"
	"encoding/hex"
	"testing"
)

// Reference values from the MD4 specification's test suite.
func TestKnownVectors(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", "31d6cfe0d16ae931b73c59d7e0c089c0"},
		{"a", "bde52cb31de33e46245e05fbdbd6fb24"},
		{"abc", "a448017aaf21d8525fc10ae87aa6729d"},
		{"message digest", "d9130a8164549fe818874806e1c7014b"},
	}
	for _, tc := range cases {
		got := Buffer([]byte(tc.in))
		if hex.EncodeToString(got[:]) != tc.want {
			t.Fatalf("digest(%q) = %x, want %s", tc.in, got, tc.want)
		}
	}
}

func TestStreamMatchesBuffer(t *testing.T) {
	data := bytes.Repeat([]byte("stream me please "), 100)
	fromStream, err := Stream(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if fromStream != Buffer(data) {
		t.Fatal("stream and buffer digests differ")
	}
}
