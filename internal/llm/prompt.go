package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yheihei/pdf-to-podcast/internal/core"
)

const structurePromptTemplate = `あなたはPDF文書の構造を解析する専門家です。
以下のPDFテキストから章（チャプター）を検出してください。

要件：
1. 各章のタイトルとページ番号を抽出
2. 序章、エピローグ、付録なども含める
3. 目次がある場合は優先的に使用
4. 目次がない場合は本文から推測
5. ページ番号は本文中に記載されているページ番号を使用

重要：
- 総ページ数は %d ページです
- 各章の終了ページは次の章の開始ページ-1、最後の章は総ページ数とします

出力は以下のJSON形式で返してください：
{
  "chapters": [
    {"title": "序章", "start_page": 1, "end_page": 10},
    {"title": "第1章 はじめに", "start_page": 11, "end_page": 25}
  ]
}

PDFテキスト：
%s
`

const lecturePromptTemplate = `あなたはポッドキャストの講義台本作成者です。以下の章の内容を、一人の講師が語る講義形式の台本に変換してください。

章タイトル: %s

章の内容:
%s

要件:
1. 10分で聴ける長さ（合計4000〜5000文字程度）
2. 一人の講師がリスナーに語りかける講義形式
3. 話者ラベルや見出しは付けず、本文のみを出力する
4. 段落は空行で区切る
5. 内容を正確に要約しながら、リスナーが理解しやすい説明にする
6. 専門用語は適切に説明を加える
7. 日本語で記述する

台本を生成してください:`

// chapterList matches the JSON envelope the structure prompt requests.
type chapterList struct {
	Chapters []core.ChapterSpec `json:"chapters"`
}

// structurePrompt builds the chapter detection prompt for a text sample.
func structurePrompt(sampleText string, totalPages int) string {
	return fmt.Sprintf(structurePromptTemplate, totalPages, sampleText)
}

// lecturePrompt builds the narration prompt for one work item, appending the
// surrounding-document hints when present.
func lecturePrompt(item core.WorkItem, genCtx core.GenerationContext) string {
	var builder strings.Builder

	builder.WriteString(fmt.Sprintf(lecturePromptTemplate, item.ID, item.Text))

	var hints []string

	if genCtx.SeriesTitle != "" {
		hints = append(hints, "このポッドキャストのシリーズ名は「"+genCtx.SeriesTitle+"」です。")
	}

	if genCtx.PreviousTitle != "" {
		hints = append(hints, "前の章は「"+genCtx.PreviousTitle+"」でした。")
	}

	if genCtx.NextTitle != "" {
		hints = append(hints, "次の章は「"+genCtx.NextTitle+"」です。")
	}

	if genCtx.Style != "" {
		hints = append(hints, "語り口の指定: "+genCtx.Style)
	}

	if len(hints) > 0 {
		builder.WriteString("\n\n補足情報:\n")

		for _, hint := range hints {
			builder.WriteString("- " + hint + "\n")
		}
	}

	return builder.String()
}

// parseChapters extracts the chapter list from a completion, tolerating
// markdown code fences around the JSON payload.
func parseChapters(completion string) ([]core.ChapterSpec, error) {
	payload := stripFences(completion)

	var list chapterList

	unmarshalErr := json.Unmarshal([]byte(payload), &list)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("failed to unmarshal chapter list: %w", unmarshalErr)
	}

	return list.Chapters, nil
}

// stripFences unwraps a markdown code block when the completion is wrapped
// in one, preferring a ```json fence over a bare fence.
func stripFences(completion string) string {
	trimmed := strings.TrimSpace(completion)

	for _, fence := range []string{"```json", "```"} {
		start := strings.Index(trimmed, fence)
		if start < 0 {
			continue
		}

		inner := trimmed[start+len(fence):]

		end := strings.Index(inner, "```")
		if end < 0 {
			break
		}

		return strings.TrimSpace(inner[:end])
	}

	return trimmed
}
