package crash

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/predem/internal/domain"
)

func TestAppendReport_ProducesValidJSON(t *testing.T) {
	at := time.Date(2024, 5, 6, 7, 8, 9, 123, time.UTC)
	f := &Fault{Source: domain.CrashSourceSignal, Reason: "bad \"quote\"\n\x01\x7f", Signal: "segmentation fault"}
	trace := []byte("goroutine 1 [running]:\n\tmain.go:12 +0x1d\n\xff")

	buf := make([]byte, 0, 4096)
	out := appendReport(buf, f, at, "inst", "go1.25", "linux/amd64", trace)
	assert.Same(t, &buf[:1][0], &out[:1][0], "report fits in the reserved buffer")

	var rep domain.CrashReport
	require.NoError(t, json.Unmarshal(out, &rep))
	assert.Equal(t, f.Reason, rep.Reason)
	assert.Equal(t, f.Signal, rep.Signal)
	assert.Equal(t, "inst", rep.InstallID)
	assert.True(t, at.Equal(rep.Timestamp))
	assert.Contains(t, rep.Trace, "main.go:12")
	assert.Equal(t, "go1.25", rep.GoVersion)
	assert.Equal(t, "linux/amd64", rep.OSArch)
}

func TestPanicReason(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{"msg", "msg"},
		{assert.AnError, assert.AnError.Error()},
		{42, "42"},
		{3.5, "3.5"},
		{time.Second, "1s"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, panicReason(tt.in))
	}
}
