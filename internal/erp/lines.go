package erp

import "fmt"

// Lines — изменяемый упорядоченный список строк документа с позиционным доступом.
type Lines struct {
	items []Line
}

// NewLines создаёт список из готовых строк (например, прочитанных из ERP).
func NewLines(lines ...Line) Lines {
	items := make([]Line, len(lines))
	copy(items, lines)
	return Lines{items: items}
}

// Count возвращает число строк.
func (l *Lines) Count() int {
	return len(l.items)
}

// Add добавляет пустую строку в конец и возвращает её позицию.
func (l *Lines) Add() int {
	l.items = append(l.items, Line{LineNum: -1})
	return len(l.items) - 1
}

// Append добавляет заполненную строку в конец.
func (l *Lines) Append(line Line) int {
	i := l.Add()
	l.items[i] = withLineNum(line, -1)
	return i
}

// Set перезаписывает содержимое строки на позиции i, сохраняя её LineNum.
func (l *Lines) Set(i int, line Line) error {
	if i < 0 || i >= len(l.items) {
		return fmt.Errorf("set line %d: index out of range [0,%d)", i, len(l.items))
	}
	l.items[i] = withLineNum(line, l.items[i].LineNum)
	return nil
}

// Delete удаляет строку на позиции i; последующие строки сдвигаются.
func (l *Lines) Delete(i int) error {
	if i < 0 || i >= len(l.items) {
		return fmt.Errorf("delete line %d: index out of range [0,%d)", i, len(l.items))
	}
	l.items = append(l.items[:i], l.items[i+1:]...)
	return nil
}

// At возвращает строку на позиции i.
func (l *Lines) At(i int) Line {
	return l.items[i]
}

// All возвращает копию строк.
func (l *Lines) All() []Line {
	out := make([]Line, len(l.items))
	copy(out, l.items)
	return out
}

func withLineNum(line Line, num int) Line {
	line.LineNum = num
	return line
}
