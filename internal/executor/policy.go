package executor

import (
	"fmt"
	"os"
	"path"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/joescharf/opsassist/internal/models"
)

// defaultBlacklist matches destructive command shapes that are never run.
var defaultBlacklist = []string{
	`\brm\s+(-[a-zA-Z]*\s+)*-[a-zA-Z]*[rR][a-zA-Z]*\s+(-[a-zA-Z]*\s+)*/(\*)?(\s|$)`,
	`\bmkfs(\.[a-z0-9]+)?\b`,
	`\bdd\b.*\bif=`,
	`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`,
	`\bshutdown\b`,
	`\breboot\b`,
	`\bhalt\b`,
	`\bpoweroff\b`,
	`\binit\s+[06]\b`,
	`>\s*/dev/(sd|hd|vd|xvd|nvme)`,
	`\bchmod\s+(-R\s+)?0?777\s+/(\s|$)`,
	`\bchown\s+-R\s+\S+\s+/(\s|$)`,
}

// Policy decides which commands may run. The blacklist always applies; an
// empty whitelist permits any leading program.
type Policy struct {
	Blacklist []string `yaml:"blacklist"`
	Whitelist []string `yaml:"whitelist"`

	deny  []*regexp.Regexp
	allow map[string]bool
}

// DefaultPolicy returns the built-in blacklist with no whitelist.
func DefaultPolicy() *Policy {
	p, err := NewPolicy(nil, nil)
	if err != nil {
		panic(err)
	}
	return p
}

// NewPolicy compiles extra blacklist patterns on top of the defaults.
func NewPolicy(blacklist, whitelist []string) (*Policy, error) {
	p := &Policy{
		Blacklist: append(append([]string(nil), defaultBlacklist...), blacklist...),
		Whitelist: append([]string(nil), whitelist...),
	}
	if err := p.compile(); err != nil {
		return nil, err
	}
	return p, nil
}

// LoadPolicy reads a YAML policy file. Its blacklist extends the defaults.
func LoadPolicy(file string) (*Policy, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	var raw struct {
		Blacklist []string `yaml:"blacklist"`
		Whitelist []string `yaml:"whitelist"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse policy %s: %w", file, err)
	}
	return NewPolicy(raw.Blacklist, raw.Whitelist)
}

func (p *Policy) compile() error {
	p.deny = p.deny[:0]
	for _, src := range p.Blacklist {
		re, err := regexp.Compile(src)
		if err != nil {
			return fmt.Errorf("blacklist pattern %q: %w", src, err)
		}
		p.deny = append(p.deny, re)
	}
	p.allow = make(map[string]bool, len(p.Whitelist))
	for _, w := range p.Whitelist {
		p.allow[w] = true
	}
	return nil
}

// Check returns an error wrapping models.ErrPolicyViolation when the command
// may not run.
func (p *Policy) Check(command string) error {
	text := strings.TrimSpace(command)
	if text == "" {
		return fmt.Errorf("empty command: %w", models.ErrPolicyViolation)
	}
	for _, re := range p.deny {
		if re.MatchString(text) {
			return fmt.Errorf("%q matches %q: %w", text, re.String(), models.ErrPolicyViolation)
		}
	}
	if len(p.allow) == 0 {
		return nil
	}
	for _, prog := range programs(text) {
		if !p.allow[prog] {
			return fmt.Errorf("%q: program %q not whitelisted: %w", text, prog, models.ErrPolicyViolation)
		}
	}
	return nil
}

// CheckPlan validates every command of the plan, rollback and verification
// included.
func (p *Policy) CheckPlan(plan models.FixPlan) error {
	groups := [][]models.Command{plan.Commands, plan.RollbackCommands, plan.VerificationCommands}
	for _, cmds := range groups {
		for _, c := range cmds {
			if err := p.Check(c.CommandText); err != nil {
				return fmt.Errorf("plan %s step %d: %w", plan.ID, c.Step, err)
			}
		}
	}
	return nil
}

var segmentSep = regexp.MustCompile(`&&|\|\||[;|]`)

// programs returns the leading program of every pipeline segment, skipping
// sudo and leading VAR=value assignments.
func programs(command string) []string {
	var out []string
	for _, seg := range segmentSep.Split(command, -1) {
		fields := strings.Fields(seg)
		for len(fields) > 0 && (fields[0] == "sudo" || strings.Contains(fields[0], "=")) {
			fields = fields[1:]
		}
		if len(fields) == 0 {
			continue
		}
		out = append(out, path.Base(fields[0]))
	}
	return out
}
