// Copyright 2016 The Gorilla WebSocket Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wsframe

import (
	"math/rand"
	"os"
	"strconv"
	"time"
)

// JitterDelay returns a DelayFunc that sleeps for base plus a uniformly
// random duration below jitter. It returns nil when neither value is
// positive, so the result can be installed unconditionally.
func JitterDelay(base, jitter time.Duration) DelayFunc {
	if base <= 0 && jitter <= 0 {
		return nil
	}
	return func() {
		d := base
		if jitter > 0 {
			d += time.Duration(rand.Int63n(int64(jitter)))
		}
		if d > 0 {
			time.Sleep(d)
		}
	}
}

// DelayFromEnv builds a JitterDelay from two environment variables
// holding millisecond counts, read once at call time. It returns nil
// when both are unset or unparsable, keeping ambient configuration out
// of the framing logic itself.
func DelayFromEnv(baseKey, jitterKey string) DelayFunc {
	return JitterDelay(millisFromEnv(baseKey), millisFromEnv(jitterKey))
}

func millisFromEnv(key string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	ms, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
