package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Defaults applied when the file omits a value.
const (
	DefaultComputeSize = ComputeMedium
	DefaultSchema      = "app_data"
	DefaultCapacity    = CapacityCU1
	DefaultTimeoutSecs = 600
	DefaultPollSecs    = 5
)

// Identity carries the caller's platform identity for placeholder
// substitution.
type Identity struct {
	Username string
}

// placeholderRe matches {name} tokens in templated fields.
var placeholderRe = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

type fileFormat struct {
	Common struct {
		Build      BuildSpec      `yaml:"build"`
		Deployment DeploymentSpec `yaml:"deployment"`
	} `yaml:"common"`
	Environments map[string]environmentSection `yaml:"environments"`
}

type environmentSection struct {
	AppName       string       `yaml:"app_name"`
	Description   string       `yaml:"description"`
	WorkspacePath string       `yaml:"workspace_path"`
	ComputeSize   ComputeSize  `yaml:"compute_size"`
	EnvVars       []EnvVar     `yaml:"env_vars"`
	Permissions   []Grant      `yaml:"permissions"`
	Database      DatabaseSpec `yaml:"database"`
}

// Load reads the configuration file at path, resolves the named
// environment against the common section, substitutes placeholders from
// identity, and validates the result. It returns a fully valid
// DesiredState or a typed *Error, never a partial state.
func Load(path, environment string, identity Identity) (*DesiredState, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, newError(ReasonBadFile, "", err)
	}
	return Parse(raw, environment, identity)
}

// Parse is Load without the file read, for callers that already hold the
// document bytes.
func Parse(raw []byte, environment string, identity Identity) (*DesiredState, error) {
	var file fileFormat
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, newError(ReasonBadFile, "", err)
	}

	env, ok := file.Environments[environment]
	if !ok {
		names := make([]string, 0, len(file.Environments))
		for name := range file.Environments {
			names = append(names, name)
		}
		return nil, newError(ReasonUnknownEnvironment, "environments",
			fmt.Errorf("environment %q not declared (have: %s)", environment, strings.Join(names, ", ")))
	}

	state := &DesiredState{
		Environment:   environment,
		AppName:       env.AppName,
		Description:   env.Description,
		WorkspacePath: env.WorkspacePath,
		ComputeSize:   env.ComputeSize,
		EnvVars:       env.EnvVars,
		Permissions:   env.Permissions,
		Database:      env.Database,
		Build:         file.Common.Build,
		Deployment:    file.Common.Deployment,
	}
	applyDefaults(state)

	resolved, err := substitute(state.WorkspacePath, identity)
	if err != nil {
		return nil, err
	}
	state.WorkspacePath = resolved

	if err := validate(state); err != nil {
		return nil, err
	}
	return state, nil
}

func applyDefaults(state *DesiredState) {
	if state.ComputeSize == "" {
		state.ComputeSize = DefaultComputeSize
	}
	if state.Database.Schema == "" {
		state.Database.Schema = DefaultSchema
	}
	if state.Database.Capacity == "" {
		state.Database.Capacity = DefaultCapacity
	}
	if state.Deployment.TimeoutSeconds == 0 {
		state.Deployment.TimeoutSeconds = DefaultTimeoutSecs
	}
	if state.Deployment.PollIntervalSeconds == 0 {
		state.Deployment.PollIntervalSeconds = DefaultPollSecs
	}
}

// substitute replaces {username}-style placeholders in a templated field.
// Unknown placeholder names fail the load rather than passing through
// verbatim into a remote path.
func substitute(template string, identity Identity) (string, error) {
	var substErr error
	out := placeholderRe.ReplaceAllStringFunc(template, func(match string) string {
		name := match[1 : len(match)-1]
		switch name {
		case "username":
			if identity.Username == "" {
				substErr = newError(ReasonTemplate, "workspace_path",
					fmt.Errorf("placeholder {username} used but no identity available"))
			}
			return identity.Username
		default:
			substErr = newError(ReasonTemplate, "workspace_path",
				fmt.Errorf("unknown placeholder {%s}", name))
			return match
		}
	})
	if substErr != nil {
		return "", substErr
	}
	return out, nil
}

func validate(state *DesiredState) error {
	v := validator.New()
	err := v.Struct(state)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return newError(ReasonBadFile, "", err)
	}
	first := verrs[0]
	field := fieldPath(first.Namespace())
	switch first.Tag() {
	case "required", "min":
		return newError(ReasonMissingField, field,
			fmt.Errorf("field is required"))
	case "oneof":
		return newError(ReasonInvalidEnum, field,
			fmt.Errorf("value %q not in {%s}", first.Value(), first.Param()))
	default:
		return newError(ReasonInvalidEnum, field,
			fmt.Errorf("failed %s validation", first.Tag()))
	}
}

// fieldPath strips the root struct name from a validator namespace and
// lowercases it into the yaml-facing field path.
func fieldPath(namespace string) string {
	parts := strings.SplitN(namespace, ".", 2)
	if len(parts) == 2 {
		namespace = parts[1]
	}
	return strings.ToLower(namespace)
}
