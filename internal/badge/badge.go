// Package badge вычисляет набор значков, положенных пользователю
// по накопленной сумме баллов.
package badge

import "github.com/mmeshcher/campus-rewards-system/internal/model"

// Evaluate возвращает идентификаторы значков, которые пользователь заслужил,
// но ещё не получил. Функция чистая: повторный вызов с теми же входными
// данными после выдачи значков возвращает пустой результат.
func Evaluate(lifetimePoints int64, catalog []model.Badge, earned []int64) []int64 {
	have := make(map[int64]struct{}, len(earned))
	for _, id := range earned {
		have[id] = struct{}{}
	}

	var missing []int64
	for _, b := range catalog {
		if b.PointsRequired > lifetimePoints {
			continue
		}
		if _, ok := have[b.ID]; ok {
			continue
		}
		missing = append(missing, b.ID)
	}

	return missing
}
