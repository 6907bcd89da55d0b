// Package probe speaks the RutOS firmware tooling over an SSH runner.
//
// Each Prober is bound to one router. Operations map one to one onto the
// commands the device ships: rut_fota for discovery and download, sysupgrade
// for verify and flash.
package probe

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"fotad.sh/internal/config"
	"fotad.sh/internal/ferrors"
	"fotad.sh/internal/sshclient"
)

const imagePath = "/tmp/firmware.img"

const (
	cmdPing     = "echo fota-ping"
	cmdVersion  = "cat /etc/version"
	cmdInfo     = "rut_fota --get_info"
	cmdDownload = "rut_fota --download_fw"
	cmdImageLs  = "ls -la " + imagePath
	cmdVerify   = "sysupgrade -T " + imagePath
	cmdApply    = "sysupgrade -c " + imagePath
)

// fwNewestSentinel is what rut_fota reports in the fw field when the vendor
// server has nothing newer.
const fwNewestSentinel = "Fw_newest"

// Prober runs firmware operations against a single router.
type Prober struct {
	runner sshclient.Runner
	target sshclient.Target
	cfg    config.ProbeConfig
	logger *slog.Logger
}

// New binds a prober to one target.
func New(runner sshclient.Runner, target sshclient.Target, cfg config.ProbeConfig) *Prober {
	return &Prober{
		runner: runner,
		target: target,
		cfg:    cfg,
		logger: slog.With("component", "probe", "host", target.Host),
	}
}

// run executes a command with the stdout accommodation: the RutOS tools
// habitually exit non-zero after printing their answer, so a non-empty
// stdout wins over the exit status.
func (p *Prober) run(ctx context.Context, command string, timeout time.Duration) (string, error) {
	out, err := p.runner.Run(ctx, p.target, command, timeout)
	if err != nil && ferrors.IsCode(err, ferrors.ErrCodeCommandFailed) && strings.TrimSpace(out) != "" {
		return out, nil
	}
	return out, err
}

// Ping checks basic reachability. It succeeds only on a clean echo that
// comes back intact.
func (p *Prober) Ping(ctx context.Context) error {
	out, err := p.runner.Run(ctx, p.target, cmdPing, p.cfg.PingTimeout)
	if err != nil {
		return err
	}
	if !strings.Contains(out, "fota-ping") {
		return ferrors.Newf(ferrors.ErrCodeCommandFailed,
			"unexpected ping reply: %q", strings.TrimSpace(out))
	}
	return nil
}

// CurrentVersion reads the installed firmware version. An empty string means
// the device gave no reading, which the reboot poll treats as not back yet.
func (p *Prober) CurrentVersion(ctx context.Context) (string, error) {
	out, err := p.run(ctx, cmdVersion, p.cfg.CommandTimeout)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// AvailableVersion asks the device's FOTA agent what the vendor server
// offers. An empty string means nothing newer is advertised.
func (p *Prober) AvailableVersion(ctx context.Context) (string, error) {
	out, err := p.run(ctx, cmdInfo, p.cfg.CommandTimeout)
	if err != nil {
		return "", err
	}
	return parseInfoOutput(out)
}

// ImagePresent reports whether a downloaded firmware image sits at the
// well-known path. A failed ls means absent, not broken.
func (p *Prober) ImagePresent(ctx context.Context) (bool, error) {
	if _, err := p.run(ctx, cmdImageLs, p.cfg.CommandTimeout); err != nil {
		if ferrors.IsCode(err, ferrors.ErrCodeCommandFailed) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// DownloadImage tells the FOTA agent to fetch the advertised image, then
// confirms the file actually landed. rut_fota exits zero even on a failed
// fetch, so the presence check is the real verdict.
func (p *Prober) DownloadImage(ctx context.Context) error {
	p.logger.Debug("downloading firmware image")
	if _, err := p.run(ctx, cmdDownload, p.cfg.DownloadTimeout); err != nil {
		return ferrors.Wrapf(err, ferrors.ErrCodeDownloadFailed,
			"firmware download did not complete")
	}
	present, err := p.ImagePresent(ctx)
	if err != nil {
		return err
	}
	if !present {
		return ferrors.New(ferrors.ErrCodeDownloadFailed,
			"no firmware image on device after download")
	}
	return nil
}

// VerifyImage asks sysupgrade to test the downloaded image without flashing.
// A bad image comes back on stderr with a non-zero exit, so the stdout
// accommodation in run cannot mask a rejection.
func (p *Prober) VerifyImage(ctx context.Context) error {
	if _, err := p.run(ctx, cmdVerify, p.cfg.CommandTimeout); err != nil {
		return ferrors.Wrapf(err, ferrors.ErrCodeVerifyFailed,
			"device rejected firmware image")
	}
	return nil
}

// ApplyImage flashes the verified image, keeping device configuration.
// sysupgrade kills the SSH connection when the flash begins; that drop is
// the expected success signal, not a failure.
func (p *Prober) ApplyImage(ctx context.Context) error {
	p.logger.Debug("flashing firmware image")
	_, err := p.run(ctx, cmdApply, p.cfg.FlashTimeout)
	if err == nil || ferrors.IsCode(err, ferrors.ErrCodeConnectionClosed) {
		return nil
	}
	return err
}

// UpdateAvailable reports whether the advertised firmware names an update
// over the current version.
func UpdateAvailable(current, available string) bool {
	return available != "" && available != current
}

type fotaInfo struct {
	Fw string `json:"fw"`
}

// parseInfoOutput digs the JSON object out of rut_fota's output, which wraps
// it in status noise on some firmware builds.
func parseInfoOutput(out string) (string, error) {
	start := strings.Index(out, "{")
	end := strings.LastIndex(out, "}")
	if start < 0 || end < start {
		return "", ferrors.Newf(ferrors.ErrCodeCommandFailed,
			"no JSON object in rut_fota output: %q", strings.TrimSpace(out))
	}

	var info fotaInfo
	if err := json.Unmarshal([]byte(out[start:end+1]), &info); err != nil {
		return "", ferrors.Wrapf(err, ferrors.ErrCodeCommandFailed,
			"failed to parse rut_fota output")
	}

	fw := strings.TrimSpace(info.Fw)
	if fw == "" || fw == fwNewestSentinel {
		return "", nil
	}
	return fw, nil
}
