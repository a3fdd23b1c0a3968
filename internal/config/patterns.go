package config

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// xmlRoot is the element the legacy pattern format is rooted at:
//
//	<strip-attribute>
//	  <type regex="^UnityEngine\.Serialization\." />
//	</strip-attribute>
const xmlRoot = "strip-attribute"

type xmlPatternFile struct {
	XMLName xml.Name
	Types   []struct {
		Regex *string `xml:"regex,attr"`
	} `xml:"type"`
}

// yamlPatternFile is the YAML pattern format:
//
//	patterns:
//	  - ^UnityEngine\.Serialization\.
type yamlPatternFile struct {
	Patterns []string `yaml:"patterns"`
}

// LoadPatternFile reads the regular expressions listed in path, in order.
// Files ending in .yaml or .yml use the YAML format; anything else is parsed
// as the XML format.
func LoadPatternFile(path string) ([]string, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path is supplied by the user.
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, configErr(path, fmt.Errorf("file does not exist: %w", err))
		}
		return nil, configErr(path, err)
	}

	var patterns []string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		patterns, err = parseYAMLPatterns(data)
	default:
		patterns, err = parseXMLPatterns(data)
	}
	if err != nil {
		return nil, configErr(path, err)
	}
	return patterns, nil
}

func parseXMLPatterns(data []byte) ([]string, error) {
	var doc xmlPatternFile
	dec := xml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse XML: %w", err)
	}
	if doc.XMLName.Local != xmlRoot {
		return nil, fmt.Errorf("can't find root <%s> tag, found <%s>", xmlRoot, doc.XMLName.Local)
	}
	patterns := make([]string, 0, len(doc.Types))
	for i, t := range doc.Types {
		if t.Regex == nil {
			return nil, fmt.Errorf("can't find regex attribute on <type> index %d", i)
		}
		patterns = append(patterns, *t.Regex)
	}
	return patterns, nil
}

func parseYAMLPatterns(data []byte) ([]string, error) {
	var doc yamlPatternFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	return doc.Patterns, nil
}
