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

package logging

import (
	"strings"

	log "github.com/sirupsen/logrus"
)

const redactedStr = "REDACTED"

// Redactor is implemented by values which carry secrets, such as
// configurations. The formatter logs Redacted() in their place.
type Redactor interface {
	Redacted() interface{}
}

// SecretsFormatter scrubs secrets from entries and formats them as
// JSON. String fields whose key names a secret are replaced.
type SecretsFormatter struct {
	*log.JSONFormatter
}

var _secretKeys = []string{"password", "secret", "dsn", "private_key", "user_data"}

func isSecretKey(k string) bool {
	k = strings.ToLower(k)
	for _, s := range _secretKeys {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}

// Format redacts the entry and formats it.
func (f *SecretsFormatter) Format(entry *log.Entry) ([]byte, error) {
	data := make(log.Fields, len(entry.Data))
	for k, v := range entry.Data {
		switch v := v.(type) {
		case string:
			if isSecretKey(k) && v != "" {
				data[k] = redactedStr
				continue
			}
		case Redactor:
			data[k] = v.Redacted()
			continue
		}
		data[k] = v
	}
	e := *entry
	e.Data = data
	return f.JSONFormatter.Format(&e)
}
