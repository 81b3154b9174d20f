// Copyright (c) 2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sge

import (
	"bytes"
	"context"
	"io/ioutil"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

const (
	_defaultSSHPort        = 22
	_defaultSSHUser        = "root"
	_defaultSSHDialTimeout = 10 * time.Second
)

// SSHConfig is the configuration to reach the grid master.
type SSHConfig struct {
	Host string `yaml:"host" validate:"nonzero"`
	Port int    `yaml:"port"`
	User string `yaml:"user"`
	// KeyFile is the path of the private key used to authenticate.
	KeyFile string `yaml:"key_file" validate:"nonzero"`
	// KnownHostsKey pins the master's public host key, in authorized_keys
	// format. It is required unless InsecureIgnoreHostKey is set.
	KnownHostsKey         string        `yaml:"known_hosts_key"`
	InsecureIgnoreHostKey bool          `yaml:"insecure_ignore_host_key"`
	DialTimeout           time.Duration `yaml:"dial_timeout"`
}

func (c *SSHConfig) normalize() {
	if c.Port == 0 {
		c.Port = _defaultSSHPort
	}
	if c.User == "" {
		c.User = _defaultSSHUser
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = _defaultSSHDialTimeout
	}
}

// SSHRunner runs commands on the grid master over SSH. The connection is
// opened lazily and re-established after a failure.
type SSHRunner struct {
	sync.Mutex

	addr   string
	config *ssh.ClientConfig
	client *ssh.Client
}

// NewSSHRunner returns a Runner connecting with the given configuration.
func NewSSHRunner(cfg SSHConfig) (*SSHRunner, error) {
	cfg.normalize()
	key, err := ioutil.ReadFile(cfg.KeyFile)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read key %s", cfg.KeyFile)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse key %s", cfg.KeyFile)
	}

	callback, err := hostKeyCallback(cfg)
	if err != nil {
		return nil, err
	}

	return &SSHRunner{
		addr: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		config: &ssh.ClientConfig{
			User:            cfg.User,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: callback,
			Timeout:         cfg.DialTimeout,
		},
	}, nil
}

// hostKeyCallback pins the configured host key. Any key is accepted only
// when explicitly allowed.
func hostKeyCallback(cfg SSHConfig) (ssh.HostKeyCallback, error) {
	if cfg.KnownHostsKey != "" {
		pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(cfg.KnownHostsKey))
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse known host key")
		}
		return ssh.FixedHostKey(pub), nil
	}
	if !cfg.InsecureIgnoreHostKey {
		return nil, errors.Errorf("known_hosts_key of %s is required", cfg.Host)
	}
	log.WithField("host", cfg.Host).
		Warn("host key of the grid master is not verified")
	return ssh.InsecureIgnoreHostKey(), nil
}

// Run implements Runner.
func (r *SSHRunner) Run(ctx context.Context, cmd string) ([]byte, error) {
	client, err := r.connect()
	if err != nil {
		return nil, err
	}
	session, err := client.NewSession()
	if err != nil {
		r.reset(client)
		return nil, errors.Wrap(err, "failed to open ssh session")
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	select {
	case <-ctx.Done():
		session.Close()
		return nil, ctx.Err()
	case err := <-done:
		if err != nil {
			log.WithFields(log.Fields{
				"command": cmd,
				"stderr":  truncate(stderr.String()),
			}).WithError(err).Debug("remote command failed")
			return nil, errors.Wrapf(err, "remote command failed: %s", truncate(stderr.String()))
		}
		return stdout.Bytes(), nil
	}
}

// Close closes the underlying connection.
func (r *SSHRunner) Close() error {
	r.Lock()
	defer r.Unlock()
	if r.client == nil {
		return nil
	}
	err := r.client.Close()
	r.client = nil
	return err
}

func (r *SSHRunner) connect() (*ssh.Client, error) {
	r.Lock()
	defer r.Unlock()
	if r.client != nil {
		return r.client, nil
	}
	client, err := ssh.Dial("tcp", r.addr, r.config)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to %s", r.addr)
	}
	r.client = client
	return client, nil
}

func (r *SSHRunner) reset(client *ssh.Client) {
	r.Lock()
	defer r.Unlock()
	if r.client == client {
		r.client.Close()
		r.client = nil
	}
}
