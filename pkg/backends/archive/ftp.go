package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"os"
	"path"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/opst/vortexflow/pkg/backends"
	"github.com/opst/vortexflow/pkg/retry"
	"github.com/opst/vortexflow/pkg/utils/files"
)

// FTPConfig describes an ftp (or ftserv) archive host.
type FTPConfig struct {
	// Scheme is "ftp" or "ftserv".
	Scheme string

	// Host is `host[:port]`. The port defaults to 21.
	Host string

	User     string
	Password string
	Timeout  time.Duration
}

// Connection is the subset of ftp commands used by FTPTransport.
type Connection interface {
	Retr(path string) (io.ReadCloser, error)
	Stor(path string, r io.Reader) error
	Delete(path string) error
	FileSize(path string) (int64, error)
	MakeDir(path string) error
	Quit() error
}

// Dialer opens logged-in connections.
type Dialer func(ctx context.Context, conf FTPConfig) (Connection, error)

// DialFTP connects and logs in with github.com/jlaffaye/ftp.
func DialFTP(ctx context.Context, conf FTPConfig) (Connection, error) {
	addr := conf.Host
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "21")
	}
	opts := []ftp.DialOption{ftp.DialWithContext(ctx)}
	if 0 < conf.Timeout {
		opts = append(opts, ftp.DialWithTimeout(conf.Timeout))
	}
	c, err := ftp.Dial(addr, opts...)
	if err != nil {
		return nil, retry.Transient(err)
	}
	if err := c.Login(conf.User, conf.Password); err != nil {
		return nil, errors.Join(err, c.Quit())
	}
	return serverConn{ServerConn: c}, nil
}

type serverConn struct {
	*ftp.ServerConn
}

func (s serverConn) Retr(path string) (io.ReadCloser, error) {
	resp, err := s.ServerConn.Retr(path)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// FTPTransport reaches an archive host through FTP. A connection is
// opened per operation.
type FTPTransport struct {
	conf FTPConfig
	dial Dialer
}

var _ Transport = &FTPTransport{}

func NewFTPTransport(conf FTPConfig, dial Dialer) *FTPTransport {
	if conf.Scheme == "" {
		conf.Scheme = "ftp"
	}
	if dial == nil {
		dial = DialFTP
	}
	return &FTPTransport{conf: conf, dial: dial}
}

func (f *FTPTransport) Scheme() string { return f.conf.Scheme }

// Address returns the ftp-qualified name `scheme://user@host/path`.
func (f *FTPTransport) Address(p string) string {
	user := ""
	if f.conf.User != "" {
		user = f.conf.User + "@"
	}
	return fmt.Sprintf("%s://%s%s%s", f.conf.Scheme, user, f.conf.Host, path.Join("/", p))
}

// classify maps ftp replies to ErrNotFound, transient or permanent errors.
func classify(p string, err error) error {
	if err == nil {
		return nil
	}
	var perr *textproto.Error
	if errors.As(err, &perr) {
		switch {
		case perr.Code == ftp.StatusFileUnavailable:
			return fmt.Errorf("%w: %s: %w", ErrNotFound, p, err)
		case 400 <= perr.Code && perr.Code < 500:
			return retry.Transient(err)
		default:
			return err
		}
	}
	var nerr net.Error
	if errors.As(err, &nerr) || errors.Is(err, io.ErrUnexpectedEOF) {
		return retry.Transient(err)
	}
	return err
}

func (f *FTPTransport) with(ctx context.Context, do func(Connection) error) error {
	c, err := f.dial(ctx, f.conf)
	if err != nil {
		return err
	}
	err = do(c)
	if qerr := c.Quit(); qerr != nil && err == nil {
		err = retry.Transient(qerr)
	}
	return err
}

func (f *FTPTransport) Stat(ctx context.Context, p string) (*backends.Stat, error) {
	var stat *backends.Stat
	err := f.with(ctx, func(c Connection) error {
		size, err := c.FileSize(p)
		if err := classify(p, err); err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			return err
		}
		stat = &backends.Stat{Path: f.Address(p), Size: size}
		return nil
	})
	return stat, err
}

func (f *FTPTransport) Get(ctx context.Context, p string, local string) error {
	return f.with(ctx, func(c Connection) error {
		resp, err := c.Retr(p)
		if err != nil {
			return classify(p, err)
		}
		defer resp.Close()

		out, err := files.CreateAll(local, os.FileMode(0644), os.FileMode(0755))
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, resp); err != nil {
			return errors.Join(retry.Transient(err), out.Close())
		}
		return out.Close()
	})
}

func (f *FTPTransport) Put(ctx context.Context, local string, p string) error {
	in, err := os.Open(local)
	if err != nil {
		return err
	}
	defer in.Close()

	return f.with(ctx, func(c Connection) error {
		dir := path.Dir(path.Join("/", p))
		walked := "/"
		for _, seg := range splitPath(dir) {
			walked = path.Join(walked, seg)
			c.MakeDir(walked) // already existing directories are fine
		}
		if _, err := in.Seek(0, io.SeekStart); err != nil {
			return err
		}
		return classify(p, c.Stor(p, in))
	})
}

func (f *FTPTransport) Delete(ctx context.Context, p string) error {
	return f.with(ctx, func(c Connection) error {
		return classify(p, c.Delete(p))
	})
}

func splitPath(p string) []string {
	return strings.FieldsFunc(p, func(r rune) bool { return r == '/' })
}
