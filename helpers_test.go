package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

// useBufferWriters swaps stdIn/stdOut/stdErr with in-memory buffers for the
// duration of a test, allowing assertions on CLI output without polluting
// test logs.
func useBufferWriters(t *testing.T) {
	t.Helper()

	prevIn, prevOut, prevErr := stdIn, stdOut, stdErr
	stdIn = strings.NewReader("")
	stdOut = &bytes.Buffer{}
	stdErr = &bytes.Buffer{}

	t.Cleanup(func() {
		stdIn, stdOut, stdErr = prevIn, prevOut, prevErr
	})
}

// stdOutBuffer returns the in-use stdout buffer when useBufferWriters is active.
func stdOutBuffer() *bytes.Buffer {
	buf, _ := stdOut.(*bytes.Buffer)
	return buf
}

// stdErrBuffer returns the in-use stderr buffer when useBufferWriters is active.
func stdErrBuffer() *bytes.Buffer {
	buf, _ := stdErr.(*bytes.Buffer)
	return buf
}

// configFixture 返回 internal/config/testdata 下的样例配置；main 包测试的工作目录即仓库根目录。
func configFixture(t *testing.T, name string) string {
	t.Helper()
	path, err := filepath.Abs(filepath.Join("internal", "config", "testdata", name))
	if err != nil {
		t.Fatalf("无法定位配置样例: %v", err)
	}
	return path
}
