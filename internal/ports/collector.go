package ports

import "github.com/leehyoungkeun/control-smartfarm-sub000/internal/domain"

type Collector interface {
	Start(out chan<- domain.Reading) error
	Stop() error
}
