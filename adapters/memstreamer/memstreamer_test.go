package memstreamer_test

import (
	"testing"

	"github.com/andrewwormald/autoflow"
	"github.com/andrewwormald/autoflow/adapters/adaptertest"
	"github.com/andrewwormald/autoflow/adapters/memstreamer"
)

func TestStreamer(t *testing.T) {
	adaptertest.RunEventStreamerTest(t, func() autoflow.EventStreamer {
		return memstreamer.New()
	})
}
