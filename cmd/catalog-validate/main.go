// catalog-validate：校验目录数据文件的结构，并检查名称与 URL 在文件间唯一
package main

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"crs-api/internal/catalog"
	"crs-api/internal/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var errValidation = errors.New("some failures validating data")

type validateOptions struct {
	input         string
	inputDist     string
	validateDist  bool
	logInputFiles bool
}

func newRootCmd() *cobra.Command {
	o := &validateOptions{}
	cmd := &cobra.Command{
		Use:           "catalog-validate",
		Short:         "Validate the catalog data files (or the aggregated dist catalog)",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := o.input
			if o.validateDist {
				dir = o.inputDist
			}
			return validateDir(dir, o.validateDist, o.logInputFiles)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.input, "input", "data", "folder containing the per-entry data files")
	f.StringVar(&o.inputDist, "input-dist", "dist", "folder containing the aggregated catalog")
	f.BoolVar(&o.validateDist, "validate-dist", false, "validate the aggregated catalog, not the partial files")
	f.BoolVar(&o.logInputFiles, "log-input-files", false, "log every file read")
	return cmd
}

// 文档注释：遍历目录校验全部 .json/.yaml 文件
// 约束：单个文件失败不中断遍历；名称重复记为警告、URL 重复记为错误，两者都使结果失败。
// dist 模式要求顶层为 {"entries": [...]}。
func validateDir(dir string, dist, logFiles bool) error {
	l := logger.L()
	ok := true
	var failing []string
	checker := catalog.NewChecker()
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".json" && !catalog.IsYAML(path) {
			if logFiles {
				l.Warn("file_skipped", "file", path, "reason", "not json or yaml")
			}
			return nil
		}
		entries, err := validateFile(path, dist)
		if err != nil {
			ok = false
			failing = append(failing, path)
			l.Error("file_failed", "file", path, "err", err)
			return nil
		}
		checker.Add(path, entries)
		if logFiles {
			l.Info("file_ok", "file", path, "entries", len(entries))
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, dup := range checker.DuplicateNames() {
		ok = false
		l.Warn("duplicate_name", "name", dup.Key, "files", strings.Join(dup.Files, ", "))
	}
	for _, dup := range checker.DuplicateURLs() {
		ok = false
		l.Error("duplicate_url", "url", dup.Key, "files", strings.Join(dup.Files, ", "))
	}
	if len(failing) > 0 {
		l.Error("failing_files", "files", strings.Join(failing, "\n"))
	}
	if !ok {
		return errValidation
	}
	return nil
}

func validateFile(path string, dist bool) ([]catalog.Entry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if dist && !hasEntries(b) {
		return nil, errors.New(`aggregated catalog must have an "entries" list`)
	}
	entries, err := catalog.DecodeEntries(b, catalog.IsYAML(path))
	if err != nil {
		return nil, err
	}
	var errs []error
	for i := range entries {
		if err := entries[i].Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return entries, errors.Join(errs...)
}

// hasEntries：顶层为带 entries 列表的对象；YAML 解析器同样接受 JSON
func hasEntries(b []byte) bool {
	var top map[string]any
	if err := yaml.Unmarshal(b, &top); err != nil {
		return false
	}
	_, ok := top["entries"].([]any)
	return ok
}

func main() {
	_ = godotenv.Load(".env")
	logger.Setup()
	if err := newRootCmd().Execute(); err != nil {
		logger.L().Error("catalog_validate_error", "err", err)
		os.Exit(1)
	}
}
