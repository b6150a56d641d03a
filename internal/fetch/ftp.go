// Package fetch mirrors the upstream raster file tree over FTP so the
// ingestion driver can run against a local copy.
package fetch

import (
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jlaffaye/ftp"
)

const dialTimeout = 30 * time.Second

type Mirror struct {
	addr string // host:port
	user string
	pass string
}

func NewMirror(addr, user, pass string) *Mirror {
	return &Mirror{addr: addr, user: user, pass: pass}
}

// Run mirrors remoteRoot into localRoot and returns the number of files
// downloaded. Files already present locally with a matching size are skipped,
// so an interrupted mirror is resumable. Individual file failures are logged
// and do not stop the walk; only connection-level failures abort.
func (m *Mirror) Run(remoteRoot, localRoot string) (int, error) {
	var conn *ftp.ServerConn
	operation := func() error {
		var err error
		conn, err = ftp.Dial(m.addr, ftp.DialWithTimeout(dialTimeout))
		if err != nil {
			return fmt.Errorf("ftp dial %s: %w", m.addr, err)
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 2 * time.Minute
	if err := backoff.Retry(operation, bo); err != nil {
		return 0, err
	}
	defer conn.Quit()

	if err := conn.Login(m.user, m.pass); err != nil {
		return 0, fmt.Errorf("ftp login: %w", err)
	}

	return m.mirrorDir(conn, remoteRoot, localRoot)
}

func (m *Mirror) mirrorDir(conn *ftp.ServerConn, remoteDir, localDir string) (int, error) {
	entries, err := conn.List(remoteDir)
	if err != nil {
		return 0, fmt.Errorf("list %s: %w", remoteDir, err)
	}

	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return 0, fmt.Errorf("mkdir %s: %w", localDir, err)
	}

	downloaded := 0
	for _, entry := range entries {
		if entry.Name == "." || entry.Name == ".." {
			continue
		}
		remotePath := path.Join(remoteDir, entry.Name)
		localPath := filepath.Join(localDir, entry.Name)

		switch entry.Type {
		case ftp.EntryTypeFolder:
			n, err := m.mirrorDir(conn, remotePath, localPath)
			downloaded += n
			if err != nil {
				return downloaded, err
			}
		case ftp.EntryTypeFile:
			if skipExisting(localPath, entry.Size) {
				continue
			}
			if err := downloadFile(conn, remotePath, localPath); err != nil {
				log.Printf("fetch: download %s: %v", remotePath, err)
				continue
			}
			downloaded++
		}
	}
	return downloaded, nil
}

// skipExisting reports whether localPath already holds a complete copy.
func skipExisting(localPath string, remoteSize uint64) bool {
	info, err := os.Stat(localPath)
	return err == nil && uint64(info.Size()) == remoteSize
}

func downloadFile(conn *ftp.ServerConn, remotePath, localPath string) error {
	resp, err := conn.Retr(remotePath)
	if err != nil {
		return fmt.Errorf("retr: %w", err)
	}
	defer resp.Close()

	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}

	if _, err := io.Copy(f, resp); err != nil {
		f.Close()
		os.Remove(localPath) // don't leave a partial file a later run would skip
		return fmt.Errorf("copy: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(localPath)
		return fmt.Errorf("close: %w", err)
	}
	log.Printf("fetch: %s -> %s", remotePath, localPath)
	return nil
}
