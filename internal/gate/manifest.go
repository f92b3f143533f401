package gate

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// renderManifest loads the environment's manifest and pins every `image:`
// field to the immutable `name:sha` tag. Pinning works on the YAML node tree
// so comments, ordering, and multi-document files survive untouched.
func renderManifest(path, sha string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	decoder := yaml.NewDecoder(strings.NewReader(string(raw)))
	var out strings.Builder
	encoder := yaml.NewEncoder(&out)
	encoder.SetIndent(2)

	docs := 0
	for {
		var doc yaml.Node
		err := decoder.Decode(&doc)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("parsing manifest %q: %w", path, err)
		}
		pinImages(&doc, sha)
		if err := encoder.Encode(&doc); err != nil {
			return nil, fmt.Errorf("re-encoding manifest %q: %w", path, err)
		}
		docs++
	}
	if err := encoder.Close(); err != nil {
		return nil, err
	}
	if docs == 0 {
		return nil, fmt.Errorf("manifest %q contains no documents", path)
	}
	return []byte(out.String()), nil
}

// pinImages walks the node tree and rewrites every scalar value keyed
// `image` to its SHA-pinned form.
func pinImages(node *yaml.Node, sha string) {
	switch node.Kind {
	case yaml.DocumentNode, yaml.SequenceNode:
		for _, child := range node.Content {
			pinImages(child, sha)
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			key, value := node.Content[i], node.Content[i+1]
			if key.Value == "image" && value.Kind == yaml.ScalarNode {
				value.Value = pinnedImage(value.Value, sha)
				// Strip any style that would quote the old tag oddly.
				value.Tag = "!!str"
				continue
			}
			pinImages(value, sha)
		}
	}
}

// pinnedImage replaces the image reference's tag with the artifact SHA.
// A reference with no tag simply gains one. Registry ports (host:5000/app)
// are preserved: only a tag after the final path component is replaced.
func pinnedImage(ref, sha string) string {
	slash := strings.LastIndex(ref, "/")
	colon := strings.LastIndex(ref, ":")
	if colon > slash {
		ref = ref[:colon]
	}
	return ref + ":" + sha
}
