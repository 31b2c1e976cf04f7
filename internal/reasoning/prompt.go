package reasoning

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"diagnosis-runner/internal/domain"
)

const defaultProfileTemplate = `你是一个医学症状分析专家。

给定疾病信息：
疾病名称：{disease_name}
症状列表：{symptoms}

请分析并生成一个真实的患者画像，包括：
1. 年龄和性别
2. 主要症状的严重程度
3. 症状的持续时间
4. 其他相关信息

输出格式为JSON：
{{
    "age": 年龄,
    "gender": "性别",
    "main_symptoms": ["主要症状1", "主要症状2"],
    "symptom_duration": "持续时间",
    "severity": "严重程度",
    "additional_info": "其他信息"
}}`

const defaultPatientTemplate = `你是一个患者，正在向医生描述你的症状。

你的基本信息：
{patient_profile}

医生的问题：{doctor_question}

请根据你的症状画像，用自然、真实的语言回答医生的问题。
- 如实描述症状
- 不要使用过于专业的医学术语
- 回答要简洁明确
- 如果医生问到你不确定的信息，可以说"不太清楚"或"记不清了"

直接输出你的回答，不要包含其他解释。`

const defaultAnalyzerTemplate = `你是一个医学诊断结果分析专家。

医生的最终回复：
{doctor_response}

预期疾病：{expected_disease}

请执行以下任务：
1. 从医生的回复中提取诊断结果
2. 判断诊断是否与预期疾病一致
3. 给出匹配度评分（0-100）

输出格式为JSON：
{{
    "diagnosed_disease": "医生诊断的疾病",
    "is_match": true/false,
    "match_score": 匹配度评分,
    "analysis": "分析说明"
}}`

// render substitutes {name} placeholders and unescapes doubled braces.
// Unknown placeholders are left as written.
func render(tmpl string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2+4)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	pairs = append(pairs, "{{", "{", "}}", "}")
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

func profileJSON(p domain.Profile) (string, error) {
	raw, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return "", fmt.Errorf("reasoning: encode profile: %w", err)
	}
	return string(raw), nil
}

// extractJSONObject returns the first JSON object in raw, tolerating code
// fences and prose around it.
func extractJSONObject(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimPrefix(s, "json")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return "", errors.New("reasoning: no JSON object in model output")
	}
	return s[start : end+1], nil
}

func decodeObject(raw string, v any) error {
	obj, err := extractJSONObject(raw)
	if err != nil {
		return err
	}
	if err := json.NewDecoder(bytes.NewBufferString(obj)).Decode(v); err != nil {
		return fmt.Errorf("reasoning: decode model output: %w", err)
	}
	return nil
}
