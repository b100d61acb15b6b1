// Package jobscript generates the SLURM launch script for an OCEAN run,
// builds the shell commands that start it, and parses scheduler output.
package jobscript

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/shore-hpc/shore/internal/constants"
)

// Script describes a launch script.
type Script struct {
	JobName   string
	Cores     int
	Partition string
	Walltime  string
	Activate  string // optional environment activation script
	Engine    string
}

// Command is the engine invocation shared by batch and direct launches.
func (s *Script) Command() string {
	engine := s.Engine
	if engine == "" {
		engine = constants.DefaultEngine
	}
	return fmt.Sprintf("%s %s > %s", engine, constants.InputFileName, constants.EngineLogName)
}

// String renders the SLURM batch script.
func (s *Script) String() string {
	var sb strings.Builder

	sb.WriteString("#!/bin/bash\n")
	sb.WriteString(fmt.Sprintf("#SBATCH --job-name=%s\n", s.JobName))
	cores := s.Cores
	if cores < 1 {
		cores = constants.DefaultCores
	}
	sb.WriteString(fmt.Sprintf("#SBATCH --ntasks=%d\n", cores))
	sb.WriteString(fmt.Sprintf("#SBATCH --output=%s\n", constants.SchedulerOutName))
	sb.WriteString(fmt.Sprintf("#SBATCH --error=%s\n", constants.SchedulerErrName))
	if s.Partition != "" {
		sb.WriteString(fmt.Sprintf("#SBATCH --partition=%s\n", s.Partition))
	}
	if s.Walltime != "" {
		sb.WriteString(fmt.Sprintf("#SBATCH --time=%s\n", s.Walltime))
	}
	sb.WriteString("\n")
	if s.Activate != "" {
		sb.WriteString(fmt.Sprintf("source %s\n", s.Activate))
	}
	sb.WriteString(s.Command() + "\n")

	return sb.String()
}

// WriteFile writes the script as job.sh into dir and returns its path.
func (s *Script) WriteFile(dir string) (string, error) {
	path := filepath.Join(dir, constants.JobScriptName)
	if err := os.WriteFile(path, []byte(s.String()), 0755); err != nil {
		return "", fmt.Errorf("failed to write job script: %w", err)
	}
	return path, nil
}

var sbatchPatterns = map[string]*regexp.Regexp{
	"name":      regexp.MustCompile(`^#SBATCH\s+--job-name=(\S+)`),
	"ntasks":    regexp.MustCompile(`^#SBATCH\s+--ntasks=(\d+)`),
	"partition": regexp.MustCompile(`^#SBATCH\s+--partition=(\S+)`),
	"time":      regexp.MustCompile(`^#SBATCH\s+--time=(\S+)`),
	"source":    regexp.MustCompile(`^source\s+(\S+)`),
}

// Parse reads the #SBATCH header of a script written by WriteFile.
func Parse(r io.Reader) (*Script, error) {
	s := &Script{}
	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if m := sbatchPatterns["name"].FindStringSubmatch(line); m != nil {
			s.JobName = m[1]
		} else if m := sbatchPatterns["ntasks"].FindStringSubmatch(line); m != nil {
			n, err := strconv.Atoi(m[1])
			if err != nil {
				return nil, fmt.Errorf("invalid --ntasks at line %d: %w", lineNum, err)
			}
			s.Cores = n
		} else if m := sbatchPatterns["partition"].FindStringSubmatch(line); m != nil {
			s.Partition = m[1]
		} else if m := sbatchPatterns["time"].FindStringSubmatch(line); m != nil {
			s.Walltime = m[1]
		} else if m := sbatchPatterns["source"].FindStringSubmatch(line); m != nil {
			s.Activate = m[1]
		} else if line != "" && !strings.HasPrefix(line, "#") {
			if f := strings.Fields(line); len(f) > 0 {
				s.Engine = f[0]
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading script: %w", err)
	}
	return s, nil
}

// clearOutputs removes the log and scheduler captures of a previous run.
var clearOutputs = fmt.Sprintf("rm -f %s %s %s", constants.EngineLogName, constants.SchedulerErrName, constants.SchedulerOutName)

// SubmitCommand submits job.sh from dir after clearing the previous run's
// output files.
func SubmitCommand(dir string) string {
	return fmt.Sprintf("cd %s && %s && sbatch %s", ShellQuote(dir), clearOutputs, constants.JobScriptName)
}

// LaunchCommand starts the engine in the background in dir so it survives
// the channel that dispatched it.
func LaunchCommand(dir string, s *Script) string {
	var sb strings.Builder
	if s.Activate != "" {
		sb.WriteString(fmt.Sprintf("source %s; ", ShellQuote(s.Activate)))
	}
	sb.WriteString(fmt.Sprintf("cd %s && %s && nohup %s 2> %s < /dev/null &",
		ShellQuote(dir), clearOutputs, s.Command(), constants.SchedulerErrName))
	return sb.String()
}

// SqueueCommand lists queued jobs for user, or just jobID when known.
func SqueueCommand(user, jobID string) string {
	if jobID != "" {
		return "squeue -j " + ShellQuote(jobID)
	}
	return "squeue --user=" + ShellQuote(user)
}

var submittedRe = regexp.MustCompile(`Submitted batch job (\d+)`)

// ParseSubmission extracts the job id from sbatch output.
func ParseSubmission(output string) (string, bool) {
	m := submittedRe.FindStringSubmatch(output)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// ShellQuote single-quotes s for POSIX shells.
func ShellQuote(s string) string {
	if s == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(s, `'`, `'"'"'`) + "'"
}
