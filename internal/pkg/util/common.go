package util

import (
	"crypto/md5"
	"encoding/hex"
	"math/rand"
	"net/url"
	"sort"
	"time"
)

// GenSignCode signs a form the way the mini-app backend expects: md5 over the
// sorted key=value pairs (the "s" parameter excluded) concatenated with the
// shared key.
func GenSignCode(form url.Values, key string) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		if k == "s" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var raw string
	for _, k := range keys {
		raw += k + "=" + form.Get(k) + "&"
	}
	raw += key
	sum := md5.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func RandString(n int) string {
	const letterBytes = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	var src = rand.NewSource(time.Now().UnixNano())

	const (
		letterIdxBits = 6
		letterIdxMask = 1<<letterIdxBits - 1
		letterIdxMax  = 63 / letterIdxBits
	)

	b := make([]byte, n)
	for i, cache, remain := n-1, src.Int63(), letterIdxMax; i >= 0; {
		if remain == 0 {
			cache, remain = src.Int63(), letterIdxMax
		}
		if idx := int(cache & letterIdxMask); idx < len(letterBytes) {
			b[i] = letterBytes[idx]
			i--
		}
		cache >>= letterIdxBits
		remain--
	}
	return string(b)
}
