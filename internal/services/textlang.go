// internal/services/textlang.go
package services

// isEnglishText 判断文本是否以英文为主，用于选择提示词语言
func isEnglishText(text string) bool {
	if len(text) == 0 {
		return false
	}

	// 计数
	letterCount := 0
	chineseCount := 0
	totalValidChars := 0 // 有效字符总数

	for _, r := range text {
		// 英文字母
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			letterCount++
			totalValidChars++
		}
		// 检测中文字符
		if r >= 0x4E00 && r <= 0x9FFF {
			chineseCount++
			totalValidChars++
		}
		// 数字也算有效字符
		if r >= '0' && r <= '9' {
			totalValidChars++
		}
	}

	// 判定规则：
	// 1. 如果没有有效字符，返回 false
	if totalValidChars == 0 {
		return false
	}

	// 2. 计算英文字母占有效字符的比例
	englishRatio := float64(letterCount) / float64(totalValidChars)

	// 3. 如果英文字母比例超过50%，认为是英文文本
	return englishRatio > 0.5
}
