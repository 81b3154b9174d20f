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

package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type testConfig struct {
	Name     string        `yaml:"name" validate:"nonzero"`
	MaxNodes int           `yaml:"max_nodes" validate:"min=1"`
	Interval time.Duration `yaml:"interval"`
	Nested   struct {
		Zone string `yaml:"zone"`
	} `yaml:"nested"`
}

type ParseTestSuite struct {
	suite.Suite

	dir string
}

func TestParseTestSuite(t *testing.T) {
	suite.Run(t, new(ParseTestSuite))
}

func (s *ParseTestSuite) SetupTest() {
	dir, err := ioutil.TempDir("", "config")
	s.Require().NoError(err)
	s.dir = dir
}

func (s *ParseTestSuite) TearDownTest() {
	os.RemoveAll(s.dir)
}

func (s *ParseTestSuite) write(name, content string) string {
	path := filepath.Join(s.dir, name)
	s.Require().NoError(ioutil.WriteFile(path, []byte(content), 0644))
	return path
}

func (s *ParseTestSuite) TestMergesInOrder() {
	base := s.write("base.yaml", "name: base\nmax_nodes: 3\ninterval: 60s\nnested:\n  zone: us-east-1a\n")
	override := s.write("override.yaml", "max_nodes: 10\n")

	var cfg testConfig
	s.NoError(Parse(&cfg, base, override))
	s.Equal("base", cfg.Name)
	s.Equal(10, cfg.MaxNodes)
	s.Equal(time.Minute, cfg.Interval)
	s.Equal("us-east-1a", cfg.Nested.Zone)
}

func (s *ParseTestSuite) TestNoFiles() {
	var cfg testConfig
	s.Error(Parse(&cfg))
}

func (s *ParseTestSuite) TestMissingFile() {
	var cfg testConfig
	s.Error(Parse(&cfg, filepath.Join(s.dir, "missing.yaml")))
}

func (s *ParseTestSuite) TestInvalidYAML() {
	var cfg testConfig
	s.Error(Parse(&cfg, s.write("bad.yaml", "name: [unterminated\n")))
}

func (s *ParseTestSuite) TestValidation() {
	var cfg testConfig
	err := Parse(&cfg, s.write("invalid.yaml", "max_nodes: 0\n"))
	s.Require().Error(err)

	verr, ok := err.(ValidationError)
	s.Require().True(ok)
	s.Error(verr.ErrForField("Name"))
	s.Error(verr.ErrForField("MaxNodes"))
	s.NoError(verr.ErrForField("Interval"))
	s.Contains(err.Error(), "validation failed")

	s.Require().Len(verr.Fields, 2)
	s.Equal("MaxNodes", verr.Fields[0].Field)
	s.Equal("Name", verr.Fields[1].Field)
}
