package airtable

import "strings"

var stringEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

// Quote возвращает строковый литерал формулы Airtable в одинарных кавычках.
func Quote(s string) string {
	return "'" + stringEscaper.Replace(s) + "'"
}

// Field возвращает ссылку на колонку: {Download Count}.
func Field(name string) string {
	return "{" + strings.NewReplacer("{", "", "}", "").Replace(name) + "}"
}

// Eq — {field} = 'value'.
func Eq(field, value string) string {
	return Field(field) + " = " + Quote(value)
}

// Gte — {field} >= 'value'.
func Gte(field, value string) string {
	return Field(field) + " >= " + Quote(value)
}

// Lte — {field} <= 'value'.
func Lte(field, value string) string {
	return Field(field) + " <= " + Quote(value)
}

// And объединяет условия. Пустые условия пропускаются;
// одно условие возвращается без обёртки.
func And(conds ...string) string {
	var parts []string
	for _, c := range conds {
		if c != "" {
			parts = append(parts, c)
		}
	}
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	}
	return "AND(" + strings.Join(parts, ", ") + ")"
}

// Between — AND({field} >= 'from', {field} <= 'to') включительно.
func Between(field, from, to string) string {
	return And(Gte(field, from), Lte(field, to))
}
