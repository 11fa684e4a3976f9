package strategy

import (
	"github.com/angeloszaimis/randdistri/internal/registry"
)

type Strategy interface {
	SelectBackend(candidates []registry.Server) (registry.Server, bool)
}
