package probe

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fotad.sh/internal/config"
	"fotad.sh/internal/ferrors"
	"fotad.sh/internal/sshclient"
)

type reply struct {
	out string
	err error
}

// fakeDevice scripts responses per command and records what ran.
type fakeDevice struct {
	replies  map[string]reply
	commands []string
	timeouts map[string]time.Duration
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		replies:  map[string]reply{},
		timeouts: map[string]time.Duration{},
	}
}

func (f *fakeDevice) Run(ctx context.Context, target sshclient.Target, command string, timeout time.Duration) (string, error) {
	f.commands = append(f.commands, command)
	f.timeouts[command] = timeout
	r, ok := f.replies[command]
	if !ok {
		return "", ferrors.Newf(ferrors.ErrCodeCommandFailed, "unscripted command: %s", command)
	}
	return r.out, r.err
}

func newTestProber(device *fakeDevice) *Prober {
	target := sshclient.Target{Host: "10.0.0.1", Username: "admin", Password: "pw"}
	return New(device, target, config.TestProbeConfig())
}

func TestPing(t *testing.T) {
	device := newFakeDevice()
	device.replies[cmdPing] = reply{out: "fota-ping\n"}

	p := newTestProber(device)
	require.NoError(t, p.Ping(context.Background()))
	assert.Equal(t, []string{cmdPing}, device.commands)
}

func TestPingUnexpectedReply(t *testing.T) {
	device := newFakeDevice()
	device.replies[cmdPing] = reply{out: "-ash: echo: not found"}

	p := newTestProber(device)
	err := p.Ping(context.Background())
	assert.Equal(t, ferrors.ErrCodeCommandFailed, ferrors.GetCode(err))
}

func TestPingTransportError(t *testing.T) {
	device := newFakeDevice()
	device.replies[cmdPing] = reply{err: ferrors.New(ferrors.ErrCodeConnectRefused, "refused")}

	p := newTestProber(device)
	err := p.Ping(context.Background())
	assert.Equal(t, ferrors.ErrCodeConnectRefused, ferrors.GetCode(err))
}

func TestCurrentVersion(t *testing.T) {
	device := newFakeDevice()
	device.replies[cmdVersion] = reply{out: "RUT9_R_00.07.06.11\n"}

	p := newTestProber(device)
	version, err := p.CurrentVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "RUT9_R_00.07.06.11", version)
}

func TestCurrentVersionStdoutWinsOverExitStatus(t *testing.T) {
	device := newFakeDevice()
	device.replies[cmdVersion] = reply{
		out: "RUT9_R_00.07.06.11\n",
		err: ferrors.New(ferrors.ErrCodeCommandFailed, "command exited with status 1"),
	}

	p := newTestProber(device)
	version, err := p.CurrentVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "RUT9_R_00.07.06.11", version)
}

func TestAvailableVersion(t *testing.T) {
	tests := []struct {
		name string
		out  string
		want string
	}{
		{"plain json", `{"fw":"RUT9_R_00.07.06.20"}`, "RUT9_R_00.07.06.20"},
		{"json with noise", "checking server...\n{\"fw\":\"RUT9_R_00.07.06.20\",\"size\":\"12M\"}\ndone\n", "RUT9_R_00.07.06.20"},
		{"nothing newer", `{"fw":"Fw_newest"}`, ""},
		{"empty field", `{"fw":""}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			device := newFakeDevice()
			device.replies[cmdInfo] = reply{out: tt.out}

			p := newTestProber(device)
			got, err := p.AvailableVersion(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAvailableVersionMalformedOutput(t *testing.T) {
	device := newFakeDevice()
	device.replies[cmdInfo] = reply{out: "rut_fota: not found"}

	p := newTestProber(device)
	_, err := p.AvailableVersion(context.Background())
	assert.Equal(t, ferrors.ErrCodeCommandFailed, ferrors.GetCode(err))
}

func TestImagePresent(t *testing.T) {
	device := newFakeDevice()
	device.replies[cmdImageLs] = reply{out: "-rw-r--r-- 1 root root 13631488 Jan  1 00:00 /tmp/firmware.img"}

	p := newTestProber(device)
	present, err := p.ImagePresent(context.Background())
	require.NoError(t, err)
	assert.True(t, present)
}

func TestImagePresentMissingFile(t *testing.T) {
	device := newFakeDevice()
	device.replies[cmdImageLs] = reply{err: ferrors.New(ferrors.ErrCodeCommandFailed, "command exited with status 1")}

	p := newTestProber(device)
	present, err := p.ImagePresent(context.Background())
	require.NoError(t, err)
	assert.False(t, present)
}

func TestImagePresentTransportError(t *testing.T) {
	device := newFakeDevice()
	device.replies[cmdImageLs] = reply{err: ferrors.New(ferrors.ErrCodeConnectionClosed, "closed")}

	p := newTestProber(device)
	_, err := p.ImagePresent(context.Background())
	assert.Equal(t, ferrors.ErrCodeConnectionClosed, ferrors.GetCode(err))
}

func TestDownloadImage(t *testing.T) {
	device := newFakeDevice()
	device.replies[cmdDownload] = reply{out: "Downloading firmware...\nDone.\n"}
	device.replies[cmdImageLs] = reply{out: "-rw-r--r-- 1 root root 13631488 Jan  1 00:00 /tmp/firmware.img"}

	p := newTestProber(device)
	require.NoError(t, p.DownloadImage(context.Background()))
	assert.Equal(t, []string{cmdDownload, cmdImageLs}, device.commands)
}

func TestDownloadImageUsesDownloadTimeout(t *testing.T) {
	device := newFakeDevice()
	device.replies[cmdDownload] = reply{out: "Done.\n"}
	device.replies[cmdImageLs] = reply{out: "-rw-r--r--"}

	cfg := config.TestProbeConfig()
	cfg.DownloadTimeout = 42 * time.Millisecond
	p := New(device, sshclient.Target{Host: "10.0.0.1"}, cfg)

	require.NoError(t, p.DownloadImage(context.Background()))
	assert.Equal(t, 42*time.Millisecond, device.timeouts[cmdDownload])
	assert.Equal(t, cfg.CommandTimeout, device.timeouts[cmdImageLs])
}

func TestDownloadImageCommandFails(t *testing.T) {
	device := newFakeDevice()
	device.replies[cmdDownload] = reply{err: ferrors.New(ferrors.ErrCodeTimeout, "command timed out")}

	p := newTestProber(device)
	err := p.DownloadImage(context.Background())
	assert.Equal(t, ferrors.ErrCodeDownloadFailed, ferrors.GetCode(err))
}

func TestDownloadImageNothingLanded(t *testing.T) {
	device := newFakeDevice()
	device.replies[cmdDownload] = reply{out: "Downloading firmware...\n"}
	device.replies[cmdImageLs] = reply{err: ferrors.New(ferrors.ErrCodeCommandFailed, "command exited with status 1")}

	p := newTestProber(device)
	err := p.DownloadImage(context.Background())
	assert.Equal(t, ferrors.ErrCodeDownloadFailed, ferrors.GetCode(err))
}

func TestVerifyImage(t *testing.T) {
	device := newFakeDevice()
	device.replies[cmdVerify] = reply{out: ""}

	p := newTestProber(device)
	require.NoError(t, p.VerifyImage(context.Background()))
}

func TestVerifyImageRejected(t *testing.T) {
	device := newFakeDevice()
	device.replies[cmdVerify] = reply{err: ferrors.New(ferrors.ErrCodeCommandFailed, "command exited with status 1")}

	p := newTestProber(device)
	err := p.VerifyImage(context.Background())
	assert.Equal(t, ferrors.ErrCodeVerifyFailed, ferrors.GetCode(err))
}

func TestApplyImage(t *testing.T) {
	tests := []struct {
		name     string
		reply    reply
		wantCode ferrors.ErrorCode
	}{
		{"clean exit", reply{out: "Commencing upgrade.\n"}, ""},
		{"connection dropped by flash", reply{err: ferrors.New(ferrors.ErrCodeConnectionClosed, "closed")}, ""},
		{"timed out", reply{err: ferrors.New(ferrors.ErrCodeTimeout, "command timed out")}, ferrors.ErrCodeTimeout},
		{"rejected", reply{err: ferrors.New(ferrors.ErrCodeCommandFailed, "command exited with status 1")}, ferrors.ErrCodeCommandFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			device := newFakeDevice()
			device.replies[cmdApply] = tt.reply

			p := newTestProber(device)
			err := p.ApplyImage(context.Background())
			if tt.wantCode == "" {
				assert.NoError(t, err)
			} else {
				assert.Equal(t, tt.wantCode, ferrors.GetCode(err))
			}
		})
	}
}

func TestApplyImageUsesFlashTimeout(t *testing.T) {
	device := newFakeDevice()
	device.replies[cmdApply] = reply{out: ""}

	cfg := config.TestProbeConfig()
	cfg.FlashTimeout = 77 * time.Millisecond
	p := New(device, sshclient.Target{Host: "10.0.0.1"}, cfg)

	require.NoError(t, p.ApplyImage(context.Background()))
	assert.Equal(t, 77*time.Millisecond, device.timeouts[cmdApply])
}

func TestUpdateAvailable(t *testing.T) {
	assert.True(t, UpdateAvailable("RUT9_R_00.07.06.11", "RUT9_R_00.07.06.20"))
	assert.False(t, UpdateAvailable("RUT9_R_00.07.06.20", "RUT9_R_00.07.06.20"))
	assert.False(t, UpdateAvailable("RUT9_R_00.07.06.11", ""))
}
