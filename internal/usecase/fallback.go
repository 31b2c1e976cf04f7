package usecase

import (
	"fmt"

	"diagnosis-runner/internal/domain"
)

// FallbackPatientReply is sent when the patient reply cannot be generated.
const FallbackPatientReply = "我感觉不太舒服，有一些症状需要您帮忙看看。"

func fallbackProfile(d domain.Disease) domain.Profile {
	symptoms := d.Symptoms
	if len(symptoms) > 3 {
		symptoms = symptoms[:3]
	}
	main := make([]string, len(symptoms))
	copy(main, symptoms)
	return domain.Profile{
		"age":              45,
		"gender":           "未知",
		"main_symptoms":    main,
		"symptom_duration": "1周",
		"severity":         "中等",
		"additional_info":  "患有" + d.Name,
	}
}

func fallbackMatch(err error) domain.MatchResult {
	return domain.MatchResult{
		DiagnosedDisease: "未能提取",
		IsMatch:          false,
		MatchScore:       0,
		Analysis:         fmt.Sprintf("分析失败: %v", err),
	}
}
