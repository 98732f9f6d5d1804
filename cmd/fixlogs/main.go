// fixlogs shifts the timestamps in captured log files by a whole number of
// hours. It exists to repair logs written while the capture host's clock was
// in the wrong timezone.
//
// Each <name>.log is backed up to <name>.log.bak before being rewritten.
// Lines without a leading [YYYY-MM-DD HH:MM:SS.mmm] timestamp pass through
// unchanged; both the T and space date separators are recognised and kept.
//
// Usage:
//
//	fixlogs -root /var/lib/daplog/logs -hours -3
//	fixlogs -root ./logs -hours 2 -dry-run
package main

import (
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// timestampPattern matches the leading bracketed timestamp the capture
// engine writes, with either T or space between date and time.
var timestampPattern = regexp.MustCompile(`^\[(\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}\.\d{3})\](.*)`)

const timestampLayout = "2006-01-02T15:04:05.000"

func main() {
	root := flag.String("root", "", "log tree to fix (required)")
	hours := flag.Int("hours", 0, "signed hour shift to apply, e.g. -3 (required)")
	dryRun := flag.Bool("dry-run", false, "report changes without writing anything")
	flag.Parse()

	hoursSet := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "hours" {
			hoursSet = true
		}
	})

	if *root == "" || !hoursSet {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(*root, *hours, *dryRun); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(root string, hours int, dryRun bool) error {
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("log root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("log root %s is not a directory", root)
	}

	offset := time.Duration(hours) * time.Hour

	var files, failed, shiftedTotal int
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".log") {
			return nil
		}

		files++
		shifted, perr := processFile(path, offset, dryRun)
		if perr != nil {
			failed++
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, perr)
			return nil
		}
		shiftedTotal += shifted
		if dryRun {
			fmt.Printf("%s: %d lines would shift\n", path, shifted)
		} else {
			fmt.Printf("%s: %d lines shifted\n", path, shifted)
		}
		return nil
	})
	if walkErr != nil {
		return walkErr
	}

	if files == 0 {
		fmt.Println("no .log files found")
		return nil
	}

	fmt.Printf("%d files, %d lines shifted by %dh\n", files, shiftedTotal, hours)
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, files)
	}
	return nil
}

// processFile rewrites one log file with shifted timestamps, keeping the
// original as <path>.bak. In dry-run mode it only counts. Returns how many
// lines were shifted.
func processFile(path string, offset time.Duration, dryRun bool) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	shifted := 0
	for i, line := range lines {
		if out := shiftLine(line, offset); out != line {
			lines[i] = out
			shifted++
		}
	}

	if dryRun {
		return shifted, nil
	}

	if err := os.Rename(path, path+".bak"); err != nil {
		return 0, fmt.Errorf("creating backup: %w", err)
	}

	var out string
	if len(data) > 0 {
		out = strings.Join(lines, "\n") + "\n"
	}
	if err := os.WriteFile(path, []byte(out), 0o644); err != nil {
		return 0, fmt.Errorf("writing shifted file: %w", err)
	}

	return shifted, nil
}

// shiftLine moves a line's leading timestamp by offset. Lines that do not
// start with a timestamp, or whose timestamp does not parse, come back
// unchanged. The original date separator (T or space) is preserved.
func shiftLine(line string, offset time.Duration) string {
	m := timestampPattern.FindStringSubmatch(line)
	if m == nil {
		return line
	}
	ts, rest := m[1], m[2]

	sep := "T"
	if strings.Contains(ts, " ") {
		sep = " "
	}

	parsed, err := time.Parse(timestampLayout, strings.Replace(ts, " ", "T", 1))
	if err != nil {
		return line
	}

	out := parsed.Add(offset).Format(timestampLayout)
	return "[" + strings.Replace(out, "T", sep, 1) + "]" + rest
}
