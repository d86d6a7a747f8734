// Package cmdsource is a reference Gateway adapter that shells out to an
// external command for every operation, templating the foreign key into its
// arguments. Retry behaviour is grounded on the teacher's defaultBackOff
// pattern (pkg/diff): a short exponential backoff, capped at a handful of
// attempts, absorbs the transient failures a spawned process can have.
package cmdsource

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/mirrorsync/reconciler/pkg/document"
	"github.com/mirrorsync/reconciler/pkg/gateway"
	"github.com/mirrorsync/reconciler/pkg/ident"
	"github.com/mirrorsync/reconciler/pkg/reconcilerrors"
	"github.com/mirrorsync/reconciler/pkg/rlog"
)

// Adapter runs Get/Set/Delete as invocations of an external command. Args
// may contain the placeholder "{{fk}}", substituted with the foreign key's
// ID before exec.
type Adapter struct {
	GetCmd    []string
	SetCmd    []string
	DeleteCmd []string
	Log       rlog.Logger

	// MaxRSSBytes, if non-zero, samples the child's resident set size once
	// shortly after it starts and logs a warning if it is exceeded. This is
	// observational only — the process is never killed for it.
	MaxRSSBytes uint64
}

var _ gateway.Adapter = (*Adapter)(nil)

// New builds a command-backed adapter. get/set/del are argv slices; the
// first element is the executable, later elements may contain "{{fk}}".
func New(get, set, del []string) *Adapter {
	return &Adapter{GetCmd: get, SetCmd: set, DeleteCmd: del, Log: rlog.Discard}
}

func substitute(args []string, fk ident.ForeignKey) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = strings.ReplaceAll(a, "{{fk}}", fk.ID)
	}
	return out
}

func (a *Adapter) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.Multiplier = 3
	return backoff.WithMaxRetries(b, 2)
}

// run executes argv, retrying transient failures per backOff, and returns
// stdout. A command with no configured argv is rejected as Internal.
func (a *Adapter) run(ctx context.Context, argv []string) ([]byte, error) {
	if len(argv) == 0 {
		return nil, reconcilerrors.Internal("cmdsource: no command configured")
	}

	var stdout []byte
	op := func() error {
		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		var out, stderr bytes.Buffer
		cmd.Stdout = &out
		cmd.Stderr = &stderr

		if err := cmd.Start(); err != nil {
			return backoff.Permanent(reconcilerrors.WrapSourceErr("start", err))
		}
		a.sampleRSS(cmd)

		if err := cmd.Wait(); err != nil {
			exitErr, ok := err.(*exec.ExitError)
			if !ok {
				return backoff.Permanent(reconcilerrors.WrapSourceErr("wait", err))
			}
			if exitErr.ExitCode() == 1 {
				// Exit code 1 is treated as transient (e.g. a lock held by a
				// concurrent invocation); anything else is not retried.
				return fmt.Errorf("cmdsource: %s exited 1: %s", argv[0], stderr.String())
			}
			return backoff.Permanent(reconcilerrors.SourceErr(
				fmt.Sprintf("exit-%d", exitErr.ExitCode()),
				"cmdsource: %s exited %d: %s", argv[0], exitErr.ExitCode(), stderr.String()))
		}
		stdout = out.Bytes()
		return nil
	}

	if err := backoff.Retry(op, a.backOff()); err != nil {
		return nil, err
	}
	return stdout, nil
}

func (a *Adapter) sampleRSS(cmd *exec.Cmd) {
	if a.MaxRSSBytes == 0 || cmd.Process == nil {
		return
	}
	proc, err := process.NewProcess(int32(cmd.Process.Pid))
	if err != nil {
		return
	}
	mem, err := proc.MemoryInfo()
	if err != nil || mem == nil {
		return
	}
	if mem.RSS > a.MaxRSSBytes {
		a.Log.Warnf("cmdsource: %s RSS %d exceeds budget %d", cmd.Path, mem.RSS, a.MaxRSSBytes)
	}
}

// Initialise is a no-op; each call spawns its own subprocess.
func (a *Adapter) Initialise(context.Context) (any, error) {
	if a.Log == nil {
		a.Log = rlog.Discard
	}
	return nil, nil
}

// Finalise is a no-op.
func (a *Adapter) Finalise(context.Context, any) error {
	return nil
}

// Get runs GetCmd with {{fk}} substituted and parses its stdout as JSON.
func (a *Adapter) Get(ctx context.Context, _ any, fk ident.ForeignKey) (document.Document, error) {
	raw, err := a.run(ctx, substitute(a.GetCmd, fk))
	if err != nil {
		return nil, err
	}
	return document.ParseJSON(raw)
}

// Set runs SetCmd with {{fk}} substituted, passing doc's canonical JSON as
// the command's last argument (nothing is written to stdin). When fk is nil
// it allocates a "cmd-<nanoseconds>" foreign key itself.
func (a *Adapter) Set(ctx context.Context, _ any, doc document.Document, fk *ident.ForeignKey) (ident.ForeignKey, error) {
	var out ident.ForeignKey
	if fk != nil {
		out = *fk
	} else {
		out = ident.ForeignKey{ID: fmt.Sprintf("cmd-%d", time.Now().UnixNano())}
	}
	raw, err := doc.MarshalJSONCanonical()
	if err != nil {
		return ident.ForeignKey{}, reconcilerrors.Internal("cmdsource: encoding document: %v", err)
	}
	argv := append(substitute(a.SetCmd, out), string(raw))
	if _, err := a.run(ctx, argv); err != nil {
		return ident.ForeignKey{}, err
	}
	return out, nil
}

// Delete runs DeleteCmd with {{fk}} substituted.
func (a *Adapter) Delete(ctx context.Context, _ any, fk ident.ForeignKey) error {
	_, err := a.run(ctx, substitute(a.DeleteCmd, fk))
	return err
}
