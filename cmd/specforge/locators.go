package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/v0xg/specforge/internal/locator"
)

var locatorsWrite bool

func newLocatorsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "locators",
		Short: "Inspect and edit locator files",
	}

	normalize := &cobra.Command{
		Use:   "normalize <file>",
		Short: "Print a locator file in the canonical nested shape",
		Args:  cobra.ExactArgs(1),
		RunE:  runLocatorsNormalize,
	}
	normalize.Flags().BoolVarP(&locatorsWrite, "write", "w", false, "Rewrite the file in place")

	resolve := &cobra.Command{
		Use:   "resolve <file> <path> <bucket> <name>",
		Short: "Show which selector a page path resolves to",
		Args:  cobra.ExactArgs(4),
		RunE:  runLocatorsResolve,
	}

	set := &cobra.Command{
		Use:   "set <file> <path> <bucket> <name> <selector>",
		Short: "Record one selector for a page",
		Args:  cobra.ExactArgs(5),
		RunE:  runLocatorsSet,
	}

	cmd.AddCommand(normalize, resolve, set)
	return cmd
}

func isYAMLFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func runLocatorsNormalize(_ *cobra.Command, args []string) error {
	store, err := locator.Load(args[0])
	if err != nil {
		return err
	}
	data, err := locator.Encode(store, isYAMLFile(args[0]))
	if err != nil {
		return err
	}
	if !locatorsWrite {
		fmt.Println(strings.TrimRight(string(data), "\n"))
		return nil
	}
	if err := os.WriteFile(args[0], append(data, '\n'), 0o644); err != nil {
		return err
	}
	fmt.Printf("✓ Normalized %s (%d pages)\n", args[0], len(store.Pages))
	return nil
}

func parseBucketArg(s string) (locator.Bucket, error) {
	b, ok := locator.ParseBucket(s)
	if !ok {
		names := make([]string, len(locator.Buckets))
		for i, b := range locator.Buckets {
			names[i] = string(b)
		}
		return "", fmt.Errorf("unknown bucket %q (want %s)", s, strings.Join(names, ", "))
	}
	return b, nil
}

func runLocatorsResolve(_ *cobra.Command, args []string) error {
	store, err := locator.Load(args[0])
	if err != nil {
		return err
	}
	bucket, err := parseBucketArg(args[2])
	if err != nil {
		return err
	}
	selector, pageKey, ok := store.Resolve(args[1], bucket, args[3])
	if !ok {
		return fmt.Errorf("no %s.%s locator for %s", bucket, args[3], args[1])
	}
	t := newTable("PATH", "PAGE", "BUCKET", "NAME", "SELECTOR")
	t.AppendRow([]any{args[1], pageKey, bucket, args[3], selector})
	t.Render()
	return nil
}

func runLocatorsSet(_ *cobra.Command, args []string) error {
	bucket, err := parseBucketArg(args[2])
	if err != nil {
		return err
	}
	if err := locator.Set(args[0], args[1], bucket, args[3], args[4]); err != nil {
		return err
	}
	fmt.Printf("✓ Set %s.%s for %s in %s\n", bucket, args[3], args[1], args[0])
	return nil
}
