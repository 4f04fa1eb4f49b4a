package equipment

import (
	"github.com/YuminosukeSato/equipml/core/model"
	"github.com/YuminosukeSato/equipml/ensemble"
	"github.com/YuminosukeSato/equipml/linear"
	"github.com/YuminosukeSato/equipml/tree"
)

// 既定のハイパーパラメータ
const (
	DefaultSeed       uint64  = 42
	DefaultTestSize   float64 = 0.2
	DefaultEstimators         = 100
	DefaultMaxDepth           = 10
	DefaultMinSamples         = 10
)

// Option は学習の設定を変更する
type Option func(*trainConfig)

type trainConfig struct {
	seed        uint64
	testSize    float64
	nEstimators int
	maxDepth    int
	minSamples  int
	withTree    bool
}

func newTrainConfig(opts []Option) trainConfig {
	cfg := trainConfig{
		seed:        DefaultSeed,
		testSize:    DefaultTestSize,
		nEstimators: DefaultEstimators,
		maxDepth:    DefaultMaxDepth,
		minSamples:  DefaultMinSamples,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithSeed は分割とアンサンブルの乱数シードを設定する
func WithSeed(seed uint64) Option {
	return func(c *trainConfig) {
		c.seed = seed
	}
}

// WithTestSize はテスト分割の割合を設定する
func WithTestSize(size float64) Option {
	return func(c *trainConfig) {
		c.testSize = size
	}
}

// WithEstimators はランダムフォレストの木の数と勾配ブースティングのステージ数を設定する
func WithEstimators(n int) Option {
	return func(c *trainConfig) {
		c.nEstimators = n
	}
}

// WithMaxDepth はランダムフォレストの最大深さを設定する
func WithMaxDepth(depth int) Option {
	return func(c *trainConfig) {
		c.maxDepth = depth
	}
}

// WithMinSamples は Train が要求する生レコードの最小件数を設定する
func WithMinSamples(n int) Option {
	return func(c *trainConfig) {
		c.minSamples = n
	}
}

// WithDecisionTree は単一の回帰木を最後の回帰候補として加える
// 最後に評価されるので、同点なら既定の3候補が優先される
func WithDecisionTree(enabled bool) Option {
	return func(c *trainConfig) {
		c.withTree = enabled
	}
}

// candidate は回帰の候補アルゴリズム
type candidate struct {
	name string
	new  func() model.Regressor
}

// regressionCandidates は評価順の候補一覧。同点なら先の候補が残る
func (c trainConfig) regressionCandidates() []candidate {
	candidates := []candidate{
		{"RandomForestRegressor", func() model.Regressor {
			return ensemble.NewRandomForestRegressor(c.nEstimators, c.maxDepth, c.seed)
		}},
		{"GradientBoostingRegressor", func() model.Regressor {
			return ensemble.NewGradientBoostingRegressor(c.nEstimators, c.seed)
		}},
		{"LinearRegression", func() model.Regressor {
			return linear.NewLinearRegression()
		}},
	}
	if c.withTree {
		candidates = append(candidates, candidate{"DecisionTreeRegressor", func() model.Regressor {
			return tree.NewDecisionTreeRegressor(tree.Params{MaxDepth: c.maxDepth}, c.seed)
		}})
	}
	return candidates
}
