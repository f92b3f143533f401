package app

import (
	"github.com/pipewright/pipewright/internal/actions"
	"github.com/pipewright/pipewright/modules/artifact"
	"github.com/pipewright/pipewright/modules/docker_build"
	"github.com/pipewright/pipewright/modules/http_check"
)

// coreModules is the definitive list of all action modules that are compiled
// into the pipewright binary.
var coreModules = []actions.Module{
	&artifact.Module{},
	&docker_build.Module{},
	&http_check.Module{},
}
