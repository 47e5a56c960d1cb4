package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/openfroyo/configurator/pkg/config"
	"github.com/openfroyo/configurator/pkg/engine"
	"github.com/openfroyo/configurator/pkg/graph"
)

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printLoadError lists validation entries one per line, or the error itself.
func printLoadError(w io.Writer, err error) {
	var verrs config.ValidationErrors
	if errors.As(err, &verrs) {
		for _, ve := range verrs {
			fmt.Fprintf(w, "  %s\n", ve.Error())
		}
		return
	}
	fmt.Fprintf(w, "  %v\n", err)
}

// writeSnapshot prints an instance tree, one instance per line.
func writeSnapshot(w io.Writer, snap *graph.InstanceSnapshot, depth int) {
	if snap == nil {
		return
	}
	indent := strings.Repeat("  ", depth)

	hidden := make(map[string]bool, len(snap.Hidden))
	for _, h := range snap.Hidden {
		hidden[h] = true
	}
	var fields []string
	for _, name := range sortedKeys(snap.Attributes) {
		field := fmt.Sprintf("%s=%s", name, snap.Attributes[name].GoString())
		if hidden[name] {
			field += "(hidden)"
		}
		fields = append(fields, field)
	}
	for _, name := range sortedKeys(snap.Items) {
		fields = append(fields, fmt.Sprintf("[%s]=%s", name, snap.Items[name].GoString()))
	}

	label := snap.Path
	if i := strings.LastIndex(label, "/"); i >= 0 && depth > 0 {
		label = label[i+1:]
	}
	fmt.Fprintf(w, "%s%s %s (%s)", indent, label, snap.Type, snap.Source)
	if len(fields) > 0 {
		fmt.Fprintf(w, "  %s", strings.Join(fields, " "))
	}
	fmt.Fprintln(w)

	for _, rel := range sortedKeys(snap.Excluded) {
		fmt.Fprintf(w, "%s  %s excluded by %s\n", indent, rel, snap.Excluded[rel])
	}
	rels := make([]string, 0, len(snap.Relations))
	for rel := range snap.Relations {
		rels = append(rels, rel)
	}
	sort.Strings(rels)
	for _, rel := range rels {
		for _, child := range snap.Relations[rel] {
			writeSnapshot(w, child, depth+1)
		}
	}
}

func writeMessages(w io.Writer, title string, msgs []engine.Message) {
	if len(msgs) == 0 {
		return
	}
	fmt.Fprintf(w, "  %s:\n", title)
	for _, m := range msgs {
		fmt.Fprintf(w, "    [%s] %s: %s\n", m.Severity, m.Instance, m.Text)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
