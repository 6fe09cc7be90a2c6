package sii

import (
	"fmt"
	"strings"
	"unicode"
)

// letras de control de DNI/NIE (módulo 23).
const dniLetters = "TRWAGMYFPDXBNJZSQVHLCKE"

// letras de control de NIF de personas jurídicas (CIF) cuando el control es letra.
const cifControlLetters = "JABCDEFGHI"

// NIFLength longitud fija de un NIF español.
const NIFLength = 9

// NormalizeNIF quita espacios, guiones y puntos, pasa a mayúsculas y elimina
// el prefijo de país "ES" con el que suele guardarse el NIF-IVA.
func NormalizeNIF(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	s := b.String()
	if len(s) == NIFLength+2 && strings.HasPrefix(s, "ES") {
		s = s[2:]
	}
	return s
}

// ValidateNIF comprueba forma y carácter de control de un NIF español:
// DNI (8 dígitos + letra), NIE (X/Y/Z + 7 dígitos + letra), NIF K/L/M y
// NIF de entidades (letra + 7 dígitos + control).
func ValidateNIF(nif string) error {
	if len(nif) != NIFLength {
		return fmt.Errorf("sii: el NIF debe tener %d caracteres, se recibieron %d", NIFLength, len(nif))
	}
	for _, r := range nif {
		if !(r >= '0' && r <= '9') && !(r >= 'A' && r <= 'Z') {
			return fmt.Errorf("sii: el NIF %q contiene caracteres no válidos", nif)
		}
	}
	first := nif[0]
	switch {
	case isDigit(first):
		return checkDNI(nif[:8], nif[8], nif)
	case first == 'X' || first == 'Y' || first == 'Z':
		prefix := string(rune('0' + strings.IndexByte("XYZ", first)))
		return checkDNI(prefix+nif[1:8], nif[8], nif)
	case first == 'K' || first == 'L' || first == 'M':
		return checkDNI(nif[1:8], nif[8], nif)
	case strings.IndexByte("ABCDEFGHJNPQRSUVW", first) >= 0:
		return checkCIF(nif)
	default:
		return fmt.Errorf("sii: el NIF %q tiene una letra inicial no válida", nif)
	}
}

// ComputeDNILetter calcula la letra de control para la parte numérica de un DNI.
func ComputeDNILetter(number string) (byte, error) {
	n := 0
	for i := 0; i < len(number); i++ {
		if !isDigit(number[i]) {
			return 0, fmt.Errorf("sii: %q no es numérico", number)
		}
		n = n*10 + int(number[i]-'0')
	}
	return dniLetters[n%23], nil
}

func checkDNI(number string, control byte, nif string) error {
	expected, err := ComputeDNILetter(number)
	if err != nil {
		return fmt.Errorf("sii: NIF %q mal formado", nif)
	}
	if control != expected {
		return fmt.Errorf("sii: letra de control del NIF %q inválida: esperada %c, recibida %c", nif, expected, control)
	}
	return nil
}

func checkCIF(nif string) error {
	digits := nif[1:8]
	sum := 0
	for i := 0; i < len(digits); i++ {
		if !isDigit(digits[i]) {
			return fmt.Errorf("sii: NIF %q mal formado", nif)
		}
		d := int(digits[i] - '0')
		if i%2 == 0 {
			d *= 2
			d = d/10 + d%10
		}
		sum += d
	}
	c := (10 - sum%10) % 10
	digitCtrl, letterCtrl := byte('0'+c), cifControlLetters[c]
	control := nif[8]
	first := nif[0]
	switch {
	case strings.IndexByte("PQRSNW", first) >= 0:
		if control == letterCtrl {
			return nil
		}
	case strings.IndexByte("ABEH", first) >= 0:
		if control == digitCtrl {
			return nil
		}
	default:
		if control == digitCtrl || control == letterCtrl {
			return nil
		}
	}
	return fmt.Errorf("sii: carácter de control del NIF %q inválido", nif)
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }
