package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// JSON列的值类型。MySQL的json列进出都是[]byte，
// 这里统一实现 Valuer/Scanner，业务层拿到的直接是Go类型。

// COMap 课程目标权重分布，键固定为 CO1..CO5
type COMap map[string]float64

func (m COMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *COMap) Scan(value interface{}) error {
	return scanJSON(value, m)
}

// StringList 学习目标、知识点等字符串列表
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	return json.Marshal(l)
}

func (l *StringList) Scan(value interface{}) error {
	return scanJSON(value, l)
}

// OptionMap 选择题选项，键为 a-d
type OptionMap map[string]string

func (m OptionMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *OptionMap) Scan(value interface{}) error {
	return scanJSON(value, m)
}

// Vector 嵌入向量
type Vector []float64

func (v Vector) Value() (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func (v *Vector) Scan(value interface{}) error {
	return scanJSON(value, v)
}

func scanJSON(value interface{}, dest interface{}) error {
	if value == nil {
		return nil
	}
	switch data := value.(type) {
	case []byte:
		if len(data) == 0 {
			return nil
		}
		return json.Unmarshal(data, dest)
	case string:
		if data == "" {
			return nil
		}
		return json.Unmarshal([]byte(data), dest)
	default:
		return errors.New("unsupported column type for json scan")
	}
}
