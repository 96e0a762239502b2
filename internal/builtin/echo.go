package builtin

import (
	"context"
	"encoding/json"

	"github.com/sharma-sourabh3435/provenance-ledger/internal/jobs"
)

// EchoKey is the key the echo job registers under
const EchoKey = "echo"

// EchoArtifact is the artifact holding the echoed input
const EchoArtifact = "out.json"

// Echo returns a job that writes its input back as out.json
func Echo() jobs.Definition {
	return jobs.Definition{
		Key: EchoKey,
		Run: func(ctx context.Context, jc *jobs.Context, input json.RawMessage) error {
			jc.Log.Infof("running")
			jc.Progress(0, "writing "+EchoArtifact)

			if err := ctx.Err(); err != nil {
				return err
			}
			if _, err := jc.WriteArtifact(EchoArtifact, input); err != nil {
				return err
			}

			jc.Progress(100, "done")
			return nil
		},
	}
}
