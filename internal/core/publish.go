package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
	xssh "golang.org/x/crypto/ssh"

	gssh "github.com/3cpo-dev/framefarm/internal/ssh"
	"github.com/3cpo-dev/framefarm/internal/telemetry"
	"github.com/3cpo-dev/framefarm/pkg/api"
)

// Publisher uploads merged job outputs to a storage host over SFTP.
type Publisher struct {
	config PublishConfig
}

func NewPublisher(cfg PublishConfig) *Publisher {
	return &Publisher{config: cfg}
}

// RemotePath is where a job file lands on the storage host.
func (p *Publisher) RemotePath(jobID, localPath string) string {
	return path.Join(p.config.RemoteDir, jobID, filepath.Base(localPath))
}

// Publish uploads the archive and preview of res with checksum verification
// and returns the remote paths written.
func (p *Publisher) Publish(ctx context.Context, res *api.JobResult) ([]string, error) {
	if p.config.Host == "" {
		return nil, errors.New("publish host not configured")
	}
	client, err := p.connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect SSH: %w", err)
	}
	defer client.Close()

	sf, err := sftp.NewClient(client)
	if err != nil {
		return nil, fmt.Errorf("create SFTP client: %w", err)
	}
	defer sf.Close()
	return p.Upload(ctx, sf, res)
}

// Upload writes the job files through an established SFTP session.
func (p *Publisher) Upload(ctx context.Context, sf *sftp.Client, res *api.JobResult) ([]string, error) {
	files := []string{res.OutputFile}
	if res.PreviewFile != "" {
		files = append(files, res.PreviewFile)
	}
	var remote []string
	for _, local := range files {
		start := time.Now()
		dst := p.RemotePath(res.JobID, local)
		n, err := gssh.PushFile(ctx, sf, local, dst)
		labels := map[string]string{"component": "publish", "host": p.config.Host}
		if err != nil {
			telemetry.CounterGlobal("framefarm_publish_failed", 1, labels)
			return remote, fmt.Errorf("transfer %s -> %s: %w", local, dst, err)
		}
		telemetry.TimerGlobal("framefarm_publish_duration", time.Since(start), labels)
		log.Info().Str("job_id", res.JobID).Str("remote", dst).Int64("bytes", n).Msg("published")
		remote = append(remote, dst)
	}
	return remote, nil
}

func (p *Publisher) connect(ctx context.Context) (*xssh.Client, error) {
	c, err := p.clientConfig()
	if err != nil {
		return nil, err
	}
	return gssh.Dial(ctx, c)
}

func (p *Publisher) clientConfig() (*gssh.Client, error) {
	kh, err := gssh.LoadKnownHostsCallback(p.config.KnownHosts)
	if err != nil {
		return nil, fmt.Errorf("load known hosts: %w", err)
	}
	c := &gssh.Client{
		Addr:       net.JoinHostPort(p.config.Host, strconv.Itoa(p.config.Port)),
		User:       p.config.User,
		Password:   p.config.Password,
		KnownHosts: kh,
		Timeout:    30 * time.Second,
		Retries:    p.config.Retries,
		Backoff:    500 * time.Millisecond,
	}
	if p.config.Password == "" {
		signer, err := gssh.LoadPrivateKeySigner(p.config.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("load SSH key: %w", err)
		}
		c.Signer = signer
	}
	return c, nil
}
