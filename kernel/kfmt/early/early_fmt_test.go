package early

import (
	"bytes"
	"testing"

	"github.com/d4ilyrun/kernel-sub002/kernel/kfmt"
)

func TestPrintf(t *testing.T) {
	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)
	defer kfmt.SetOutputSink(nil)

	Printf("pid=%d name=%s", 7, "init")

	if got, want := buf.String(), "pid=7 name=init"; got != want {
		t.Fatalf("got %q; want %q", got, want)
	}
}
