package recompose

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

const (
	msgPage       = "Page %d"
	msgPageError  = "Page %d (error)"
	msgContents   = "Table of Contents"
	msgNewChapter = "New Chapter"
	msgFileName   = "recomposed"
)

var supported = []language.Tag{language.English, language.TraditionalChinese, language.German}

var matcher = language.NewMatcher(supported)

var messages = func() catalog.Catalog {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for tag, msgs := range map[language.Tag][5]string{
		language.English:            {"Page %d", "Page %d (error)", "Table of Contents", "New Chapter", "recomposed"},
		language.TraditionalChinese: {"第 %d 頁", "第 %d 頁 (錯誤)", "目次", "新章節", "重組文件"},
		language.German:             {"Seite %d", "Seite %d (Fehler)", "Inhaltsverzeichnis", "Neues Kapitel", "neu-zusammengestellt"},
	} {
		for i, key := range [5]string{msgPage, msgPageError, msgContents, msgNewChapter, msgFileName} {
			_ = b.SetString(tag, key, msgs[i])
		}
	}
	return b
}()

// ParseLocale turns a BCP 47 string into a tag. Unknown input yields
// language.Und, which prints English.
func ParseLocale(s string) language.Tag {
	tag, err := language.Parse(s)
	if err != nil {
		return language.Und
	}
	return tag
}

func printer(tag language.Tag) *message.Printer {
	_, idx, _ := matcher.Match(tag)
	return message.NewPrinter(supported[idx], message.Catalog(messages))
}
