package wipe

import (
	"fmt"
	"sort"
)

// WipeAlgorithmKind идентифицирует алгоритм затирания.
// Значения стабильны: передаются через IPC и используются как ключи.
type WipeAlgorithmKind uint32

const (
	KindZeroFill    WipeAlgorithmKind = 0
	KindRandomFill  WipeAlgorithmKind = 1
	KindThreePass   WipeAlgorithmKind = 2
	KindSchneier    WipeAlgorithmKind = 3
	KindVSITR       WipeAlgorithmKind = 4
	KindGOST        WipeAlgorithmKind = 5
	KindGutmann     WipeAlgorithmKind = 6
	KindSecureErase WipeAlgorithmKind = 7
)

func (k WipeAlgorithmKind) String() string {
	switch k {
	case KindZeroFill:
		return "zero-fill"
	case KindRandomFill:
		return "random-fill"
	case KindThreePass:
		return "three-pass"
	case KindSchneier:
		return "schneier"
	case KindVSITR:
		return "vsitr"
	case KindGOST:
		return "gost"
	case KindGutmann:
		return "gutmann"
	case KindSecureErase:
		return "secure-erase"
	default:
		return "unknown"
	}
}

// AlgorithmDescriptor описывает метаданные алгоритма. Создаётся один раз
// при построении реестра и далее только читается.
type AlgorithmDescriptor struct {
	Kind                 WipeAlgorithmKind
	Name                 string
	Description          string
	Passes               int
	SSDCompatible        bool
	RequiresRawDevice    bool
	SupportsVerification bool
}

// Registry хранит таблицу алгоритмов. Никакого глобального состояния:
// таблица строится при старте процесса и передаётся контроллеру по ссылке.
type Registry struct {
	algorithms map[WipeAlgorithmKind]Algorithm
}

// NewRegistry строит реестр со всеми программными алгоритмами.
// Аппаратный secure erase регистрируется отдельно через Register,
// так как требует ATA-зависимостей.
func NewRegistry(bufferSize int, maxSpeedMBps float64) *Registry {
	r := &Registry{algorithms: make(map[WipeAlgorithmKind]Algorithm)}
	for _, alg := range softwareAlgorithms(bufferSize, maxSpeedMBps) {
		r.algorithms[alg.Kind()] = alg
	}
	return r
}

// Register добавляет алгоритм в реестр
func (r *Registry) Register(alg Algorithm) {
	r.algorithms[alg.Kind()] = alg
}

// Lookup возвращает алгоритм по идентификатору
func (r *Registry) Lookup(kind WipeAlgorithmKind) (Algorithm, error) {
	alg, ok := r.algorithms[kind]
	if !ok {
		return nil, fmt.Errorf("unknown wipe algorithm id: %d", kind)
	}
	return alg, nil
}

// Descriptors возвращает описания всех алгоритмов, отсортированные по id
func (r *Registry) Descriptors() []AlgorithmDescriptor {
	descriptors := make([]AlgorithmDescriptor, 0, len(r.algorithms))
	for _, alg := range r.algorithms {
		descriptors = append(descriptors, AlgorithmDescriptor{
			Kind:                 alg.Kind(),
			Name:                 alg.Name(),
			Description:          alg.Description(),
			Passes:               alg.Passes(),
			SSDCompatible:        alg.SSDCompatible(),
			RequiresRawDevice:    alg.RequiresRawDevice(),
			SupportsVerification: alg.SupportsVerification(),
		})
	}
	sort.Slice(descriptors, func(i, j int) bool {
		return descriptors[i].Kind < descriptors[j].Kind
	})
	return descriptors
}
