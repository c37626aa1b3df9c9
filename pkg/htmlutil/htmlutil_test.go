package htmlutil

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

func TestFirstText(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`
		<ul>
			<li class="msg">  No existen
				<b>datos</b>   para el periodo  </li>
			<li class="msg">second</li>
		</ul>`))
	require.NoError(t, err)

	require.Equal(t, "No existen datos para el periodo", FirstText(doc.Find("li.msg")))
	require.Equal(t, "", FirstText(doc.Find("li.missing")))
}
