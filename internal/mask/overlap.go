package mask

// Dice returns the Dice coefficient 2|A∩B| / (|A|+|B|). Two empty masks
// score 1.
func Dice(a, b *Mask) (float64, error) {
	inter, sumA, sumB, err := overlap(a, b)
	if err != nil {
		return 0, err
	}
	if sumA+sumB == 0 {
		return 1.0, nil
	}
	return 2 * float64(inter) / float64(sumA+sumB), nil
}

// IoU returns the intersection over union |A∩B| / |A∪B|. Two empty masks
// score 1.
func IoU(a, b *Mask) (float64, error) {
	inter, sumA, sumB, err := overlap(a, b)
	if err != nil {
		return 0, err
	}
	union := sumA + sumB - inter
	if union == 0 {
		return 1.0, nil
	}
	return float64(inter) / float64(union), nil
}

func overlap(a, b *Mask) (inter, sumA, sumB int, err error) {
	if err := b.Matches(a.Width, a.Height); err != nil {
		return 0, 0, 0, err
	}
	for i, va := range a.Bits {
		vb := b.Bits[i]
		if va {
			sumA++
		}
		if vb {
			sumB++
		}
		if va && vb {
			inter++
		}
	}
	return inter, sumA, sumB, nil
}
