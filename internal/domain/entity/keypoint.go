package entity

// KeyPoint найденная особая точка изображения
type KeyPoint struct {
	X        float64 // координата X центра
	Y        float64 // координата Y центра
	Size     float64 // диаметр окрестности
	Angle    float64 // ориентация в градусах, -1 если не вычисляется
	Response float64 // сила отклика
	Octave   int     // уровень пирамиды
	ClassID  int
}

// Detection хранит итог одного запуска детектора.
type Detection struct {
	Detector    string
	ImageWidth  int
	ImageHeight int
	KeyPoints   []KeyPoint
}

// Count возвращает количество найденных точек
func (d *Detection) Count() int {
	if d == nil {
		return 0
	}
	return len(d.KeyPoints)
}
