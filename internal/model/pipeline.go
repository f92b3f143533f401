// SPDX-License-Identifier: MIT
//
// This file defines the Pipeline structure, the root container for all
// configuration loaded from a user's .hcl files.
//
// Why have a Pipeline?
//
// A user may split their definition across many files and directories. The
// loader discovers every `job` and `environment` block and consolidates them
// into one unified view, so the plan compiler can resolve dependencies that
// span files.
package model

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/pipewright/pipewright/internal/ctxlog"
	"github.com/pipewright/pipewright/internal/fsutil"
)

// Pipeline is the aggregated, typed definition of a workspace.
type Pipeline struct {
	Jobs         []*JobSpec
	Environments []*Environment

	jobIndex map[string]*JobSpec
	envIndex map[string]*Environment
}

// NewPipeline creates an initialized, empty Pipeline.
func NewPipeline() *Pipeline {
	return &Pipeline{
		jobIndex: make(map[string]*JobSpec),
		envIndex: make(map[string]*Environment),
	}
}

// Job returns the JobSpec with the given name.
func (p *Pipeline) Job(name string) (*JobSpec, bool) {
	j, ok := p.jobIndex[name]
	return j, ok
}

// Environment returns the Environment with the given name.
func (p *Pipeline) Environment(name string) (*Environment, bool) {
	e, ok := p.envIndex[name]
	return e, ok
}

func (p *Pipeline) addJob(job *JobSpec) error {
	if _, exists := p.jobIndex[job.Name]; exists {
		return fmt.Errorf("duplicate job %q (%s)", job.Name, job.FSInformation.FilePath)
	}
	p.jobIndex[job.Name] = job
	p.Jobs = append(p.Jobs, job)
	return nil
}

func (p *Pipeline) addEnvironment(env *Environment) error {
	if _, exists := p.envIndex[env.Name]; exists {
		return fmt.Errorf("duplicate environment %q (%s)", env.Name, env.FSInformation.FilePath)
	}
	p.envIndex[env.Name] = env
	p.Environments = append(p.Environments, env)
	return nil
}

// hclPipelineFile represents the top-level structure of a definition file.
type hclPipelineFile struct {
	Jobs         []*hclJob         `hcl:"job,block"`
	Environments []*hclEnvironment `hcl:"environment,block"`
}

// LoadPipeline finds and parses all HCL files under the given path into a
// Pipeline model. Files are visited in lexical order, so job declaration
// order — and therefore scheduling tie-breaks — are stable for a fixed tree.
func LoadPipeline(ctx context.Context, path string) (*Pipeline, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Loading pipeline definition.", "path", path)

	files, err := fsutil.FindFilesByExtension(path, ".hcl")
	if err != nil {
		return nil, fmt.Errorf("failed to find pipeline files in %s: %w", path, err)
	}

	pipeline := NewPipeline()
	if len(files) == 0 {
		logger.Warn("No .hcl pipeline files found in path, returning empty pipeline.", "path", path)
		return pipeline, nil
	}

	parser := hclparse.NewParser()
	for _, file := range files {
		if err := loadPipelineFile(pipeline, parser, file); err != nil {
			return nil, err
		}
	}

	logger.Debug("Pipeline definition loaded.", "jobs", len(pipeline.Jobs), "environments", len(pipeline.Environments))
	return pipeline, nil
}

func loadPipelineFile(pipeline *Pipeline, parser *hclparse.Parser, filePath string) error {
	hclFile, diags := parser.ParseHCLFile(filePath)
	if diags.HasErrors() {
		return fmt.Errorf("failed to parse HCL file %s: %w", filePath, diags)
	}

	var parsed hclPipelineFile
	if diags := gohcl.DecodeBody(hclFile.Body, nil, &parsed); diags.HasErrors() {
		return fmt.Errorf("failed to decode HCL file %s: %w", filePath, diags)
	}

	for _, rawJob := range parsed.Jobs {
		job, err := newJobFromHCL(rawJob, filePath)
		if err != nil {
			return fmt.Errorf("%s: %w", filePath, err)
		}
		if err := pipeline.addJob(job); err != nil {
			return err
		}
	}
	for _, rawEnv := range parsed.Environments {
		env, err := newEnvironmentFromHCL(rawEnv, filePath)
		if err != nil {
			return fmt.Errorf("%s: %w", filePath, err)
		}
		if err := pipeline.addEnvironment(env); err != nil {
			return err
		}
	}
	return nil
}
