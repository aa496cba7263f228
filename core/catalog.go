package core

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"talkai-gateway/models"
)

const modelOwner = "talkai"

// ModelCatalog /v1/models 返回的模型列表，启动时加载一次
type ModelCatalog struct {
	ids     []string
	created int64
}

func NewModelCatalog(ids []string, created int64) *ModelCatalog {
	return &ModelCatalog{ids: ids, created: created}
}

// LoadModelCatalog 读取 models.json / models.yaml
// 文件可以是 {"别名": "模型ID"} 映射（取值），也可以是模型 ID 列表。
// 文件缺失或无法解析时返回空目录并记录告警
func LoadModelCatalog(path string, logger *logrus.Logger) *ModelCatalog {
	created := time.Now().Unix()
	ids, err := readModelIDs(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Warnf("Model catalog %s not found, /v1/models will be empty", path)
		} else {
			logger.WithError(err).Warnf("Failed to load model catalog %s, /v1/models will be empty", path)
		}
		return NewModelCatalog(nil, created)
	}
	logger.Infof("Loaded %d model(s) from %s", len(ids), path)
	return NewModelCatalog(ids, created)
}

func readModelIDs(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// JSON 是 YAML 的子集，统一用 yaml.v3 解析
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(node.Content) == 0 {
		return nil, nil
	}

	root := node.Content[0]
	switch root.Kind {
	case yaml.MappingNode:
		var ids []string
		// 保持文件中的顺序
		for i := 1; i < len(root.Content); i += 2 {
			var id string
			if err := root.Content[i].Decode(&id); err != nil {
				return nil, fmt.Errorf("parse %s: model id for %q: %w", path, root.Content[i-1].Value, err)
			}
			ids = append(ids, id)
		}
		return dedupe(ids), nil
	case yaml.SequenceNode:
		var ids []string
		if err := root.Decode(&ids); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		return dedupe(ids), nil
	default:
		return nil, fmt.Errorf("parse %s: expected a mapping or a list of model ids", path)
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// OtherModelLabel 目录之外的模型在指标中的标签
const OtherModelLabel = "other"

// Has 模型是否在目录中
func (c *ModelCatalog) Has(id string) bool {
	if c == nil {
		return false
	}
	for _, v := range c.ids {
		if v == id {
			return true
		}
	}
	return false
}

// MetricLabel 指标 model 标签，只取目录内的 ID，其余归为 other；未解析到模型时为空
func (c *ModelCatalog) MetricLabel(model string) string {
	if model == "" {
		return ""
	}
	if c.Has(model) {
		return model
	}
	return OtherModelLabel
}

// IDs 模型 ID 的排序副本
func (c *ModelCatalog) IDs() []string {
	out := append([]string(nil), c.ids...)
	sort.Strings(out)
	return out
}

func (c *ModelCatalog) List() models.ModelList {
	data := make([]models.ModelInfo, 0, len(c.ids))
	for _, id := range c.ids {
		data = append(data, models.ModelInfo{
			ID:      id,
			Object:  "model",
			Created: c.created,
			OwnedBy: modelOwner,
		})
	}
	return models.ModelList{Object: "list", Data: data}
}
