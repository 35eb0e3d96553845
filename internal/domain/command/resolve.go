package command

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// uuidPattern finds UUID-shaped substrings in raw commands.
var uuidPattern = regexp.MustCompile(`(?i)[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)

// outputNamePattern restricts --output= values to plain file stems.
var outputNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// FileChecker reports which of the given blob ids do not exist.
type FileChecker interface {
	MissingFiles(ctx context.Context, ids []string) ([]string, error)
}

// Resolver turns command strings into executables.
type Resolver struct {
	builtins *Registry
	ai       *Registry
	files    FileChecker
}

// NewResolver creates a Resolver over the given registries. files may be nil,
// in which case references are not checked for existence.
func NewResolver(builtins, ai *Registry, files FileChecker) *Resolver {
	if builtins == nil {
		builtins = NewRegistry()
	}
	if ai == nil {
		ai = NewRegistry()
	}
	return &Resolver{builtins: builtins, ai: ai, files: files}
}

// Builtins exposes the built-in registry for listings.
func (r *Resolver) Builtins() *Registry { return r.builtins }

// AI exposes the AI registry for listings.
func (r *Resolver) AI() *Registry { return r.ai }

// Resolve parses raw and renders its executable. Malformed input yields a
// *ResolutionError; any other error comes from the file existence check.
func (r *Resolver) Resolve(ctx context.Context, raw string) (*Resolution, error) {
	cmd := strings.TrimSpace(raw)
	if cmd == "" {
		return nil, &ResolutionError{Code: CodeEmpty, Message: "Command is required"}
	}

	var (
		res *Resolution
		err error
	)
	switch {
	case strings.HasPrefix(cmd, "/ai-"):
		res, err = r.directive(KindAI, r.ai, cmd[len("/ai-"):])
	case strings.HasPrefix(cmd, "/"):
		res, err = r.directive(KindBuiltin, r.builtins, cmd[1:])
	default:
		res, err = resolveRaw(cmd)
	}
	if err != nil {
		return nil, err
	}

	if err := r.checkFiles(ctx, res.FileIDs); err != nil {
		return nil, err
	}
	return res, nil
}

func (r *Resolver) directive(kind Kind, reg *Registry, body string) (*Resolution, error) {
	parts := tokenize(body)
	if len(parts) < 2 {
		return nil, missingArgument(kind)
	}
	name, input := parts[0], parts[1]

	def, ok := reg.Lookup(name)
	if !ok {
		return nil, unknownCommand(kind, name)
	}
	if _, err := uuid.Parse(input); err != nil || len(input) != 36 {
		return nil, &ResolutionError{
			Code:    CodeInvalidInput,
			Message: "Input must be a valid file ID (UUID format)",
		}
	}
	input = strings.ToLower(input)

	opts, output, err := parseOptions(parts[2:])
	if err != nil {
		return nil, err
	}
	stem, err := outputStem(output)
	if err != nil {
		return nil, err
	}

	return &Resolution{
		Kind:       kind,
		Name:       name,
		Executable: def.Transform(Args{Input: input, Options: opts, Output: stem}),
		FileIDs:    []string{input},
		Options:    opts,
		OutputName: output,
	}, nil
}

func resolveRaw(cmd string) (*Resolution, error) {
	matches := uuidPattern.FindAllString(cmd, -1)
	if len(matches) == 0 {
		return nil, &ResolutionError{
			Code:    CodeNoFileReference,
			Message: "No valid file IDs found in command",
		}
	}
	return &Resolution{
		Kind:       KindRaw,
		Executable: cmd,
		FileIDs:    dedupeLower(matches),
	}, nil
}

func (r *Resolver) checkFiles(ctx context.Context, ids []string) error {
	if r.files == nil || len(ids) == 0 {
		return nil
	}
	missing, err := r.files.MissingFiles(ctx, ids)
	if err != nil {
		return fmt.Errorf("check file references: %w", err)
	}
	if len(missing) > 0 {
		return unresolved(missing)
	}
	return nil
}

// outputStem validates --output= and strips its extension; the transform
// picks the extension.
func outputStem(name string) (string, error) {
	if name == "" {
		return "", nil
	}
	if !outputNamePattern.MatchString(name) {
		return "", &ResolutionError{
			Code:    CodeInvalidOption,
			Message: "Output name must be a plain file name",
		}
	}
	return strings.TrimSuffix(name, filepath.Ext(name)), nil
}

func dedupeLower(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.ToLower(id)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
