// SPDX-License-Identifier: MIT
//
// Package model provides the Go struct representation of a pipeline
// definition. Its core purpose is to create a strongly-typed, in-memory model
// of the user's declarations by parsing the raw HCL files.
//
// # Core Concepts
//
// The model is built around a few key structures:
//
//   - Pipeline: The root container for a workspace. It aggregates all job and
//     environment blocks parsed from one or more .hcl files.
//
//   - JobSpec: a named unit of work with ordered steps, a "needs" dependency
//     set, an optional trigger condition, optional matrix axes, and an
//     optional target environment. Defined statically, never mutated at run
//     time.
//
//   - StepSpec: one unit of execution inside a job — either a shell command
//     (`run`) or a named action (`uses`/`with`).
//
//   - Environment: a deployment target with promotion rules and scoped
//     secret/variable bindings.
//
//   - RunContext: the immutable description of the triggering event, carried
//     read-only through the whole run.
//
// Why store raw hcl.Expression fields?
//
// Step attributes like `run` and `dir`, and job conditions, are kept as
// hcl.Expression rather than evaluated strings. This defers evaluation until
// an execution scope exists (matrix bindings, run context, upstream job
// statuses), which is the mechanism that enables templated steps and
// outcome-referencing conditions. The model captures intent as an expression;
// the plan compiler and runner resolve it against a concrete scope.
package model
